// Package router decides which handler receives each inbound event. It owns
// the conversation state rules: which pending states consume free text,
// which commands and buttons clear a pending state, and how banned users
// and administrators are treated.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/core/logger"
	tg "github.com/m3rciful/v2raybot/core/telegram"
	"github.com/m3rciful/v2raybot/core/telegram/commands"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	tghelpers "github.com/m3rciful/v2raybot/core/telegram/helpers"
	"github.com/m3rciful/v2raybot/core/telegram/middleware"
	"github.com/m3rciful/v2raybot/core/telegram/state"
)

// Options wires the router to its collaborators. Only Registry is required.
type Options struct {
	Registry *tg.Registry
	States   state.Manager
	Admins   middleware.Admins

	// IsBanned reports the ban flag of a user. Nil disables ban handling.
	IsBanned func(ctx context.Context, userID int64) (bool, error)
	// DropBannedCallbacks acknowledges and drops button presses of banned
	// users. When false they are routed like any other.
	DropBannedCallbacks bool
	// Touch runs for every event that passes the ban check, before routing.
	Touch func(ctx context.Context, ev event.Event) error

	// OnBanned answers text messages of banned users.
	OnBanned event.HandlerFunc
	// OnDenied answers non-administrators invoking administrator actions.
	OnDenied event.HandlerFunc
	// OnIdentifier receives free text that looks like an account identifier.
	OnIdentifier event.HandlerFunc
	// OnError answers a request whose handler failed or panicked.
	OnError func(ctx context.Context, req *event.Request, err error)
	// Ack answers the callback query of every routed button press with the
	// notice the handler set, if any.
	Ack func(ctx context.Context, ev event.Event, text string, alert bool)
}

// Router routes events. It is safe for concurrent use; all per-user data
// lives in the state manager.
type Router struct {
	opts      Options
	adminOnly func(event.HandlerFunc) event.HandlerFunc
}

// New returns a Router. A nil state manager keeps sessions in memory.
func New(opts Options) *Router {
	if opts.Registry == nil {
		opts.Registry = tg.NewRegistry()
	}
	if opts.States == nil {
		opts.States = state.NewMemoryManager(0)
	}
	if opts.Admins == nil {
		opts.Admins = middleware.Admins{}
	}
	return &Router{
		opts:      opts,
		adminOnly: middleware.AdminOnly(opts.Admins, opts.OnDenied),
	}
}

// Dispatch routes one event and logs a handler summary. Handler failures are
// answered through OnError and never returned.
func (r *Router) Dispatch(ctx context.Context, ev event.Event) Outcome {
	start := time.Now()
	ctx = tghelpers.ForEvent(ctx, ev)
	out := r.route(ctx, ev)
	extras := []slog.Attr{slog.String("kind", ev.Kind.String())}
	if ev.Kind == event.KindCallback {
		extras = append(extras, slog.String("cb_data", logger.SanitizeLimit(ev.Data, 128)))
	}
	logHandlerSummary(ctx, start, out, extras...)
	return out
}

func (r *Router) route(ctx context.Context, ev event.Event) Outcome {
	if r.banned(ctx, ev.UserID) {
		switch {
		case ev.Kind == event.KindMessage && strings.TrimSpace(ev.Text) != "":
			out := r.run(ctx, "banned", r.request(ev, state.Idle()), r.opts.OnBanned)
			out.Status = "banned"
			return out
		case ev.Kind == event.KindCallback && r.opts.DropBannedCallbacks:
			r.ack(ctx, ev, nil)
			return Outcome{Handler: "banned", Status: "banned"}
		}
	}

	if r.opts.Touch != nil {
		if err := r.opts.Touch(ctx, ev); err != nil {
			logger.Warn(ctx, "tg", "router.touch_fail",
				slog.String("status", "fail"),
				slog.String("err", err.Error()),
			)
		}
	}

	sess := r.session(ctx, ev.UserID)
	switch ev.Kind {
	case event.KindCallback:
		return r.routeCallback(ctx, ev, sess)
	case event.KindMessage:
		return r.routeMessage(ctx, ev, sess)
	}
	return Outcome{Handler: "unknown", Status: "skip"}
}

func (r *Router) routeCallback(ctx context.Context, ev event.Event, sess state.Session) Outcome {
	def, args, ok := r.opts.Registry.MatchCallback(ev.Data)
	req := r.request(ev, sess)
	req.Args = args
	defer r.ack(ctx, ev, req)

	cleared := false
	if (!ok || !def.KeepsState) && sess.Pending() {
		cleared = r.clear(ctx, ev.UserID)
		req.Session = state.Idle()
	}
	if !ok {
		return Outcome{Handler: "callback.unknown", Status: "skip", Cleared: cleared}
	}

	req.Name = def.Name
	out := r.runGuarded(ctx, "callback."+def.Name, req, def.Handler, def.AdminOnly)
	out.Cleared = cleared
	return out
}

func (r *Router) routeMessage(ctx context.Context, ev event.Event, sess state.Session) Outcome {
	req := r.request(ev, sess)
	if !ev.IsCommand() {
		if sess.Pending() {
			if c, ok := r.opts.Registry.Consumer(sess.State); ok {
				req.Name = string(sess.State)
				if c.Expect != commands.ExpectChoice {
					return r.run(ctx, "state."+string(sess.State), req, c.Handler)
				}
				// Text abandons a pending choice.
				cleared := r.clear(ctx, ev.UserID)
				req.Session = state.Idle()
				out := r.run(ctx, "state."+string(sess.State)+".abandoned", req, c.Handler)
				out.Cleared = cleared
				return out
			}
		}
		text := strings.TrimSpace(ev.Text)
		if r.opts.OnIdentifier != nil && LooksLikeIdentifier(text) {
			req.Name = "identifier"
			req.Args = []string{text}
			return r.run(ctx, "identifier", req, r.opts.OnIdentifier)
		}
		return Outcome{Handler: "text", Status: "skip"}
	}

	name, args := ev.Command()
	key, cmd, ok := r.opts.Registry.LookupCommand(name)
	cleared := false
	if (!ok || !cmd.KeepsState) && sess.Pending() {
		cleared = r.clear(ctx, ev.UserID)
		req.Session = state.Idle()
	}
	if !ok {
		return Outcome{Handler: normalizeHandlerName(name), Status: "skip", Cleared: cleared}
	}

	req.Name = key
	req.Args = args
	out := r.runGuarded(ctx, key, req, cmd.Handler, cmd.AdminOnly)
	out.Cleared = cleared
	return out
}

func (r *Router) runGuarded(ctx context.Context, name string, req *event.Request, h event.HandlerFunc, adminOnly bool) Outcome {
	if !adminOnly {
		return r.run(ctx, name, req, h)
	}
	out := r.run(ctx, name, req, r.adminOnly(h))
	if !req.Admin && out.Err == nil {
		out.Status = "denied"
	}
	return out
}

func (r *Router) run(ctx context.Context, name string, req *event.Request, h event.HandlerFunc) (out Outcome) {
	out = Outcome{Handler: normalizeHandlerName(name), Status: "ok"}
	if h == nil {
		out.Status = "skip"
		return out
	}
	ctx = logger.WithHandler(ctx, out.Handler)
	defer func() {
		if rec := recover(); rec != nil {
			middleware.LogPanic(ctx, rec)
			out.Status = "fail"
			out.Err = fmt.Errorf("router: handler panic: %v", rec)
			r.fail(ctx, req, out.Err)
		}
	}()
	if err := h(ctx, req); err != nil {
		out.Status = "fail"
		out.Err = err
		r.fail(ctx, req, err)
	}
	return out
}

func (r *Router) request(ev event.Event, sess state.Session) *event.Request {
	return &event.Request{Event: ev, Session: sess, Admin: r.opts.Admins.Contains(ev.UserID)}
}

func (r *Router) fail(ctx context.Context, req *event.Request, err error) {
	if r.opts.OnError == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			middleware.LogPanic(ctx, rec)
		}
	}()
	r.opts.OnError(ctx, req, err)
}

func (r *Router) ack(ctx context.Context, ev event.Event, req *event.Request) {
	if r.opts.Ack == nil || ev.Kind != event.KindCallback {
		return
	}
	var (
		text  string
		alert bool
	)
	if req != nil {
		text, alert = req.Notice()
	}
	r.opts.Ack(ctx, ev, text, alert)
}

func (r *Router) banned(ctx context.Context, userID int64) bool {
	if r.opts.IsBanned == nil {
		return false
	}
	banned, err := r.opts.IsBanned(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "tg", "router.ban_check_fail",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return false
	}
	return banned
}

func (r *Router) session(ctx context.Context, userID int64) state.Session {
	sess, err := r.opts.States.Get(ctx, userID)
	if err != nil {
		logger.Warn(ctx, "tg", "router.state_read_fail",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return state.Idle()
	}
	return sess
}

// clear drops the pending state and reports that it tried to.
func (r *Router) clear(ctx context.Context, userID int64) bool {
	if err := r.opts.States.Clear(ctx, userID); err != nil {
		logger.Warn(ctx, "tg", "router.state_clear_fail",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
	}
	return true
}

// Handle is the telebot endpoint. It always returns nil so updates are never
// redelivered.
func (r *Router) Handle(c tele.Context) error {
	ev, ok := event.FromUpdate(c.Update())
	if !ok {
		return nil
	}
	r.Dispatch(tghelpers.BuildContext(c), ev)
	return nil
}

// Routes binds the router to text and callback updates.
func (r *Router) Routes() []tg.Route {
	h := middleware.RecoverMiddleware(r.Handle)
	return []tg.Route{
		{Endpoint: tele.OnText, Handler: h},
		{Endpoint: tele.OnCallback, Handler: h},
		{Endpoint: tele.OnPhoto, Handler: h},
		{Endpoint: tele.OnVideo, Handler: h},
		{Endpoint: tele.OnDocument, Handler: h},
	}
}
