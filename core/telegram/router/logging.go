package router

import (
	"context"
	"errors"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/m3rciful/v2raybot/core/logger"
)

// Outcome summarises how one event was routed.
type Outcome struct {
	Handler string
	// Status is ok, fail, skip, denied or banned.
	Status string
	// Cleared is set when a pending state was dropped before dispatch.
	Cleared bool
	Err     error
}

func logHandlerSummary(ctx context.Context, start time.Time, out Outcome, extras ...slog.Attr) {
	outcome := "ok"
	if out.Err != nil {
		outcome = "fail"
	}
	attrs := []slog.Attr{
		slog.String("status", out.Status),
		slog.String("handler", out.Handler),
		slog.String("outcome", outcome),
		slog.Bool("state_cleared", out.Cleared),
		slog.Int64("duration_ms", logger.RoundMS(time.Since(start)).Milliseconds()),
	}
	if out.Err != nil {
		attrs = append(attrs,
			slog.String("err", logger.SanitizeLimit(out.Err.Error(), 256)),
			slog.String("err_code", deriveErrorCode(out.Err)),
			slog.String("cause", out.Handler),
		)
	}
	attrs = append(attrs, extras...)
	level := slog.LevelInfo
	if out.Err != nil {
		level = slog.LevelWarn
	}
	logger.Event(ctx, "tg", level, "handler.handled", attrs...)
}

func normalizeHandlerName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "unknown"
	}
	name = strings.TrimPrefix(name, "/")
	name = strings.ReplaceAll(name, " ", "_")
	return strings.ToLower(name)
}

func deriveErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var c interface{ Code() string }
	if errors.As(err, &c) {
		code := strings.TrimSpace(c.Code())
		if code != "" {
			return strings.ToUpper(strings.ReplaceAll(code, " ", "_"))
		}
	}
	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t != nil && t.Name() != "" {
		return strings.ToUpper(strings.ReplaceAll(t.Name(), " ", "_"))
	}
	return "UNKNOWN_ERROR"
}
