package middleware

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/core/telegram/event"
)

// Admins is the set of administrator user ids.
type Admins map[int64]struct{}

// NewAdmins builds the set from ids, ignoring zeros.
func NewAdmins(ids ...int64) Admins {
	set := make(Admins, len(ids))
	for _, id := range ids {
		if id != 0 {
			set[id] = struct{}{}
		}
	}
	return set
}

// Contains reports whether id is an administrator.
func (a Admins) Contains(id int64) bool {
	_, ok := a[id]
	return ok
}

// IDs returns the administrator ids in no particular order.
func (a Admins) IDs() []int64 {
	out := make([]int64, 0, len(a))
	for id := range a {
		out = append(out, id)
	}
	return out
}

// AdminOnly lets only administrators reach next. Everybody else gets onReject,
// which may be nil to drop the request silently.
func AdminOnly(admins Admins, onReject event.HandlerFunc) func(event.HandlerFunc) event.HandlerFunc {
	return func(next event.HandlerFunc) event.HandlerFunc {
		return func(ctx context.Context, req *event.Request) error {
			if !admins.Contains(req.UserID) {
				if onReject != nil {
					return onReject(ctx, req)
				}
				return nil
			}
			req.Admin = true
			return next(ctx, req)
		}
	}
}

// AdminOnlyMiddleware is the telebot form of AdminOnly for handlers bound
// directly to the bot.
func AdminOnlyMiddleware(admins Admins, onReject tele.HandlerFunc) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			if c.Sender() == nil || !admins.Contains(c.Sender().ID) {
				if onReject != nil {
					return onReject(c)
				}
				return nil
			}
			return next(c)
		}
	}
}
