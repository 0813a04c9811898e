// Package helpers bridges telebot contexts and the request-scoped
// context.Context used by logging and handlers.
package helpers

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/core/logger"
	"github.com/m3rciful/v2raybot/core/telegram/event"
)

const contextKey = "logger_ctx"

// StoreContext attaches reusable context to tele.Context for downstream helpers.
func StoreContext(c tele.Context, ctx context.Context) {
	if c == nil || ctx == nil {
		return
	}
	c.Set(contextKey, ctx)
}

// ContextFrom returns the context stored by StoreContext.
func ContextFrom(c tele.Context) (context.Context, bool) {
	if c == nil {
		return nil, false
	}
	ctx, ok := c.Get(contextKey).(context.Context)
	return ctx, ok && ctx != nil
}

// BuildContext returns the stored context or derives one carrying the rid
// and update metadata of c.
func BuildContext(c tele.Context) context.Context {
	if cached, ok := ContextFrom(c); ok {
		return cached
	}
	if c == nil {
		return context.Background()
	}
	ctx := ForEvent(context.Background(), eventOf(c))
	StoreContext(c, ctx)
	return ctx
}

// ForEvent enriches ctx with the rid and ids of ev.
func ForEvent(ctx context.Context, ev event.Event) context.Context {
	if logger.RIDFrom(ctx) == "" {
		ctx = logger.WithRID(ctx, logger.BuildRID(ev.UpdateID, ev.ChatID, ev.UserID))
	}
	ctx = logger.WithUpdateMeta(ctx, ev.UpdateID, ev.UserID, ev.ChatID)
	return logger.WithLogger(ctx, logger.Component("tg"))
}

func eventOf(c tele.Context) event.Event {
	if ev, ok := event.FromUpdate(c.Update()); ok {
		return ev
	}
	ev := event.Event{UpdateID: c.Update().ID}
	if u := c.Sender(); u != nil {
		ev.UserID = u.ID
	}
	if ch := c.Chat(); ch != nil {
		ev.ChatID = ch.ID
	}
	return ev
}
