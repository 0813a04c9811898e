package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/core/logger"
	tghelpers "github.com/m3rciful/v2raybot/core/telegram/helpers"
)

// RecoverMiddleware catches panics in handlers and prevents the bot from crashing
func RecoverMiddleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				LogPanic(tghelpers.BuildContext(c), r)
				err = nil
			}
		}()
		return next(c)
	}
}

// LogPanic records a recovered panic with its stack.
func LogPanic(ctx context.Context, r any) {
	logger.Error(ctx, "tg", "tg.panic",
		slog.String("status", "fail"),
		slog.String("err", fmt.Sprint(r)),
		slog.String("stack", string(debug.Stack())),
	)
}
