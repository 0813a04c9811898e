package event

import (
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestFromUpdateMessage(t *testing.T) {
	u := tele.Update{ID: 11, Message: &tele.Message{
		ID:     5,
		Text:   "/start@v2bot r_42",
		Sender: &tele.User{ID: 7, Username: "neo", FirstName: "Neo"},
		Chat:   &tele.Chat{ID: 7},
	}}
	ev, ok := FromUpdate(u)
	if !ok || ev.Kind != KindMessage || ev.UserID != 7 || ev.ChatID != 7 || ev.MessageID != 5 {
		t.Fatalf("unexpected event %+v", ev)
	}
	name, args := ev.Command()
	if name != "/start" || len(args) != 1 || args[0] != "r_42" {
		t.Fatalf("command = %q %v", name, args)
	}
}

func TestFromUpdateCaptionAndCallback(t *testing.T) {
	ev, ok := FromUpdate(tele.Update{Message: &tele.Message{Caption: "hi", Sender: &tele.User{ID: 1}}})
	if !ok || ev.Text != "hi" || ev.IsCommand() {
		t.Fatalf("caption event %+v", ev)
	}

	cb := &tele.Callback{Data: "redeem_5gb", Sender: &tele.User{ID: 3}, Message: &tele.Message{ID: 9, Chat: &tele.Chat{ID: -100}}}
	ev, ok = FromUpdate(tele.Update{ID: 2, Callback: cb})
	if !ok || ev.Kind != KindCallback || ev.Data != "redeem_5gb" || ev.ChatID != -100 || ev.MessageID != 9 {
		t.Fatalf("callback event %+v", ev)
	}

	ev, _ = FromUpdate(tele.Update{Callback: &tele.Callback{Unique: "page", Data: "2", Sender: &tele.User{ID: 3}}})
	if ev.Data != "page|2" || ev.ChatID != 3 {
		t.Fatalf("unique callback event %+v", ev)
	}

	if _, ok := FromUpdate(tele.Update{Message: &tele.Message{Text: "x"}}); ok {
		t.Fatal("message without sender must be rejected")
	}
}

func TestRequestArgs(t *testing.T) {
	r := &Request{Args: []string{"a"}}
	if r.Arg(0) != "a" || r.Arg(1) != "" || r.Arg(-1) != "" {
		t.Fatal("Arg bounds")
	}
	r.Notify("done", true)
	if text, alert := r.Notice(); text != "done" || !alert {
		t.Fatal("notice not stored")
	}
}
