package router

import (
	"context"
	"errors"
	"testing"

	tg "github.com/m3rciful/v2raybot/core/telegram"
	"github.com/m3rciful/v2raybot/core/telegram/commands"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/middleware"
	"github.com/m3rciful/v2raybot/core/telegram/state"
)

const (
	stProof    state.State = "awaiting_payment_proof"
	stQuantity state.State = "awaiting_custom_quantity"
	stRedeem   state.State = "awaiting_redeem_panel_choice"
	stCreate   state.State = "awaiting_create_panel_choice"
	stKV       state.State = "awaiting_kv_value"
)

var allStates = []state.State{stProof, stQuantity, stRedeem, stCreate, stKV}

type harness struct {
	router *Router
	states state.Manager
	calls  []string
	args   map[string][]string
	acks   []string
	errs   []error
	banned map[int64]bool
}

func (h *harness) record(name string) event.HandlerFunc {
	return func(_ context.Context, req *event.Request) error {
		h.calls = append(h.calls, name)
		h.args[name] = req.Args
		return nil
	}
}

func newHarness(t *testing.T, dropBannedCallbacks bool) *harness {
	t.Helper()
	h := &harness{states: state.NewMemoryManager(0), args: map[string][]string{}, banned: map[int64]bool{}}
	reg := tg.NewRegistry()
	for _, name := range []string{"/start", "/help", "/cancel", "/premium", "/redeem"} {
		reg.RegisterCommand(name, commands.Command{Handler: h.record(name), Description: name})
	}
	for _, name := range []string{"/approve", "/reject"} {
		reg.RegisterCommand(name, commands.Command{Handler: h.record(name), Description: name, AdminOnly: true, KeepsState: true})
	}
	reg.RegisterCommand("/ban", commands.Command{Handler: h.record("/ban"), Description: "ban", AdminOnly: true})
	reg.RegisterCommand("/boom", commands.Command{Description: "boom", Handler: func(context.Context, *event.Request) error {
		panic("boom")
	}})
	reg.RegisterCommand("/fail", commands.Command{Description: "fail", Handler: func(context.Context, *event.Request) error {
		return errors.New("store down")
	}})

	mustCallback(t, reg, `redeem_panel_final_(\d+)_(\d+)`, commands.Callback{Name: "redeem_final", Handler: h.record("redeem_final"), KeepsState: true})
	mustCallback(t, reg, `view_my_keys_page_(\d+)`, commands.Callback{Name: "keys_page", Handler: h.record("keys_page"), KeepsState: true})
	mustCallback(t, reg, `menu_main`, commands.Callback{Name: "menu_main", Handler: h.record("menu_main")})
	mustCallback(t, reg, `redeem_(\d+)gb`, commands.Callback{Name: "redeem_plan", Handler: func(_ context.Context, req *event.Request) error {
		h.calls = append(h.calls, "redeem_plan")
		req.Notify("ok", true)
		return nil
	}})

	reg.RegisterConsumer(commands.Consumer{State: stProof, Expect: commands.ExpectText, Handler: h.record("proof")})
	reg.RegisterConsumer(commands.Consumer{State: stQuantity, Expect: commands.ExpectText, Handler: h.record("quantity")})
	reg.RegisterConsumer(commands.Consumer{State: stRedeem, Expect: commands.ExpectChoice, Handler: h.record("redeem_choice")})

	h.router = New(Options{
		Registry:            reg,
		States:              h.states,
		Admins:              middleware.NewAdmins(1),
		DropBannedCallbacks: dropBannedCallbacks,
		IsBanned: func(_ context.Context, id int64) (bool, error) {
			return h.banned[id], nil
		},
		OnBanned:     h.record("banned"),
		OnDenied:     h.record("denied"),
		OnIdentifier: h.record("identifier"),
		OnError: func(_ context.Context, _ *event.Request, err error) {
			h.errs = append(h.errs, err)
		},
		Ack: func(_ context.Context, _ event.Event, text string, _ bool) {
			h.acks = append(h.acks, text)
		},
	})
	return h
}

func mustCallback(t *testing.T, reg *tg.Registry, pattern string, def commands.Callback) {
	t.Helper()
	if err := reg.RegisterCallback(pattern, def); err != nil {
		t.Fatalf("register %s: %v", pattern, err)
	}
}

func text(user int64, s string) event.Event {
	return event.Event{Kind: event.KindMessage, UserID: user, ChatID: user, Text: s}
}

func press(user int64, data string) event.Event {
	return event.Event{Kind: event.KindCallback, UserID: user, ChatID: user, Data: data}
}

func (h *harness) setState(t *testing.T, user int64, st state.State) {
	t.Helper()
	if err := h.states.Set(context.Background(), user, st, state.Data{"gb": "5"}); err != nil {
		t.Fatalf("set state: %v", err)
	}
}

func (h *harness) stateOf(t *testing.T, user int64) state.State {
	t.Helper()
	sess, err := h.states.Get(context.Background(), user)
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	return sess.State
}

func TestNonPreservingCommandsClearEveryState(t *testing.T) {
	cmds := []string{"/start", "/help", "/cancel", "/premium", "/redeem", "/ban", "/nosuchcommand"}
	for _, st := range allStates {
		for _, cmd := range cmds {
			h := newHarness(t, true)
			h.setState(t, 1, st)
			out := h.router.Dispatch(context.Background(), text(1, cmd+" arg"))
			if !out.Cleared {
				t.Fatalf("%s in %s: state not cleared (%+v)", cmd, st, out)
			}
			if got := h.stateOf(t, 1); got != state.StateIdle {
				t.Fatalf("%s in %s: state %q remains", cmd, st, got)
			}
		}
	}
}

func TestPreservingCommandsKeepState(t *testing.T) {
	for _, cmd := range []string{"/approve 5 150", "/reject 5"} {
		h := newHarness(t, true)
		h.setState(t, 1, stProof)
		out := h.router.Dispatch(context.Background(), text(1, cmd))
		if out.Cleared || out.Status != "ok" {
			t.Fatalf("%s: unexpected outcome %+v", cmd, out)
		}
		if got := h.stateOf(t, 1); got != stProof {
			t.Fatalf("%s: state = %q", cmd, got)
		}
	}
}

func TestCommandArgumentsAndBotSuffix(t *testing.T) {
	h := newHarness(t, true)
	h.router.Dispatch(context.Background(), text(1, "/approve@v2bot 42  150"))
	got := h.args["/approve"]
	if len(got) != 2 || got[0] != "42" || got[1] != "150" {
		t.Fatalf("args = %v", got)
	}
}

func TestTextGoesToPendingConsumer(t *testing.T) {
	h := newHarness(t, true)
	h.setState(t, 7, stProof)
	out := h.router.Dispatch(context.Background(), text(7, "TX-12345"))
	if out.Handler != "state.awaiting_payment_proof" || len(h.calls) != 1 || h.calls[0] != "proof" {
		t.Fatalf("unexpected routing %+v calls=%v", out, h.calls)
	}
	// Consumers decide when to clear; the router leaves the state alone.
	if got := h.stateOf(t, 7); got != stProof {
		t.Fatalf("state = %q", got)
	}
}

func TestTextAbandonsChoiceStates(t *testing.T) {
	h := newHarness(t, true)
	h.setState(t, 7, stRedeem)
	out := h.router.Dispatch(context.Background(), text(7, "vless://abc@host:443"))
	if !out.Cleared || out.Status != "ok" || len(h.calls) != 1 || h.calls[0] != "redeem_choice" {
		t.Fatalf("unexpected routing %+v calls=%v", out, h.calls)
	}
	if got := h.stateOf(t, 7); got != state.StateIdle {
		t.Fatalf("state = %q, want idle", got)
	}
}

func TestUnrecognisedTextIgnoredAndIdentifiersChecked(t *testing.T) {
	h := newHarness(t, true)
	out := h.router.Dispatch(context.Background(), text(7, "good morning"))
	if out.Status != "skip" || len(h.calls) != 0 {
		t.Fatalf("plain text routed: %+v %v", out, h.calls)
	}
	h.router.Dispatch(context.Background(), text(7, " vless://abc@host:443 "))
	if len(h.calls) != 1 || h.calls[0] != "identifier" || h.args["identifier"][0] != "vless://abc@host:443" {
		t.Fatalf("identifier not routed: %v %v", h.calls, h.args)
	}
}

func TestLooksLikeIdentifier(t *testing.T) {
	cases := map[string]bool{
		"vmess://eyJhZGQiOiIxIn0=":             true,
		"vless://id@host:443":                  true,
		"VLESS://id@host:443":                  false,
		"trojan://pass@host:443":               true,
		"ss://YWVzOnBhc3M=@host:8388":          true,
		"user@example.com":                     true,
		"3f2504e0-4f89-11d3-9a0c-0305e82c3301": true,
		"3f2504e04f8911d39a0c0305e82c3301":     false,
		"hello world":                          false,
		"user@localhost":                       false,
		"http://example.com":                   false,
		"":                                     false,
	}
	for in, want := range cases {
		if got := LooksLikeIdentifier(in); got != want {
			t.Fatalf("LooksLikeIdentifier(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCallbackStatePreservation(t *testing.T) {
	h := newHarness(t, true)
	h.setState(t, 3, stRedeem)

	out := h.router.Dispatch(context.Background(), press(3, "view_my_keys_page_2"))
	if out.Cleared || h.stateOf(t, 3) != stRedeem {
		t.Fatalf("pagination cleared state: %+v", out)
	}
	if got := h.args["keys_page"]; len(got) != 1 || got[0] != "2" {
		t.Fatalf("groups = %v", got)
	}

	out = h.router.Dispatch(context.Background(), press(3, "redeem_panel_final_7_1"))
	if out.Cleared || h.stateOf(t, 3) != stRedeem {
		t.Fatalf("selection cleared state: %+v", out)
	}

	out = h.router.Dispatch(context.Background(), press(3, "menu_main"))
	if !out.Cleared || h.stateOf(t, 3) != state.StateIdle {
		t.Fatalf("menu did not clear state: %+v", out)
	}

	h.setState(t, 3, stQuantity)
	out = h.router.Dispatch(context.Background(), press(3, "something_unknown"))
	if !out.Cleared || out.Status != "skip" {
		t.Fatalf("unknown callback: %+v", out)
	}
	if len(h.acks) != 4 {
		t.Fatalf("every press must be acknowledged, got %d", len(h.acks))
	}
}

func TestCallbackNoticeIsAcknowledged(t *testing.T) {
	h := newHarness(t, true)
	h.router.Dispatch(context.Background(), press(3, "redeem_5gb"))
	if len(h.acks) != 1 || h.acks[0] != "ok" {
		t.Fatalf("acks = %v", h.acks)
	}
}

func TestBannedUsers(t *testing.T) {
	h := newHarness(t, true)
	h.banned[9] = true

	out := h.router.Dispatch(context.Background(), text(9, "/start"))
	if out.Status != "banned" || len(h.calls) != 1 || h.calls[0] != "banned" {
		t.Fatalf("banned text: %+v %v", out, h.calls)
	}

	out = h.router.Dispatch(context.Background(), press(9, "menu_main"))
	if out.Status != "banned" || len(h.calls) != 1 || len(h.acks) != 1 {
		t.Fatalf("banned callback: %+v %v", out, h.calls)
	}

	open := newHarness(t, false)
	open.banned[9] = true
	out = open.router.Dispatch(context.Background(), press(9, "menu_main"))
	if out.Status != "ok" || len(open.calls) != 1 || open.calls[0] != "menu_main" {
		t.Fatalf("callbacks should route when not dropped: %+v %v", out, open.calls)
	}
}

func TestAdminOnlyCommands(t *testing.T) {
	h := newHarness(t, true)
	out := h.router.Dispatch(context.Background(), text(2, "/ban 5"))
	if out.Status != "denied" || len(h.calls) != 1 || h.calls[0] != "denied" {
		t.Fatalf("non-admin: %+v %v", out, h.calls)
	}
	out = h.router.Dispatch(context.Background(), text(1, "/ban 5"))
	if out.Status != "ok" || h.calls[1] != "/ban" {
		t.Fatalf("admin: %+v %v", out, h.calls)
	}
}

func TestHandlerFailuresAreContained(t *testing.T) {
	h := newHarness(t, true)
	out := h.router.Dispatch(context.Background(), text(1, "/boom"))
	if out.Status != "fail" || out.Err == nil {
		t.Fatalf("panic not recovered: %+v", out)
	}
	out = h.router.Dispatch(context.Background(), text(1, "/fail"))
	if out.Status != "fail" || len(h.errs) != 2 {
		t.Fatalf("error not reported: %+v %v", out, h.errs)
	}
}

func TestTouchRunsForAllowedEvents(t *testing.T) {
	h := newHarness(t, true)
	touched := 0
	h.router.opts.Touch = func(context.Context, event.Event) error {
		touched++
		return errors.New("ignored")
	}
	h.banned[9] = true
	h.router.Dispatch(context.Background(), text(9, "hi"))
	h.router.Dispatch(context.Background(), text(4, "hi"))
	h.router.Dispatch(context.Background(), text(4, "/start"))
	if touched != 2 {
		t.Fatalf("touched = %d", touched)
	}
}
