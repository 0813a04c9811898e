// Package event decodes Telegram updates into the transport-neutral events
// the router works with.
package event

import (
	"context"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/core/telegram/state"
)

// Kind tells messages and button presses apart.
type Kind uint8

const (
	KindMessage Kind = iota + 1
	KindCallback
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindCallback:
		return "callback"
	}
	return "unknown"
}

// Event is one inbound update.
type Event struct {
	Kind      Kind
	UpdateID  int
	UserID    int64
	ChatID    int64
	Username  string
	FirstName string
	LastName  string
	LangCode  string
	// Text is the message text, or the caption of a media message.
	Text string
	// Data is the raw callback data.
	Data      string
	MessageID int
	// Message is the inbound message, or the message carrying the pressed
	// button. Nil in synthetic events.
	Message  *tele.Message
	Callback *tele.Callback
}

// FromUpdate decodes a message or callback update. Other update kinds and
// updates without a sender report false.
func FromUpdate(u tele.Update) (Event, bool) {
	switch {
	case u.Callback != nil:
		cb := u.Callback
		if cb.Sender == nil {
			return Event{}, false
		}
		ev := Event{Kind: KindCallback, UpdateID: u.ID, Data: cb.Data, Callback: cb, Message: cb.Message}
		if cb.Unique != "" {
			// telebot splits "\f<unique>|<payload>" data; raw data is rebuilt.
			ev.Data = cb.Unique
			if cb.Data != "" {
				ev.Data += "|" + cb.Data
			}
		}
		ev.setSender(cb.Sender)
		if cb.Message != nil {
			ev.MessageID = cb.Message.ID
			if cb.Message.Chat != nil {
				ev.ChatID = cb.Message.Chat.ID
			}
		}
		if ev.ChatID == 0 {
			ev.ChatID = cb.Sender.ID
		}
		return ev, true
	case u.Message != nil:
		m := u.Message
		if m.Sender == nil {
			return Event{}, false
		}
		ev := Event{Kind: KindMessage, UpdateID: u.ID, Text: m.Text, MessageID: m.ID, Message: m}
		if ev.Text == "" {
			ev.Text = m.Caption
		}
		ev.setSender(m.Sender)
		if m.Chat != nil {
			ev.ChatID = m.Chat.ID
		}
		return ev, true
	}
	return Event{}, false
}

func (e *Event) setSender(u *tele.User) {
	e.UserID = u.ID
	e.Username = u.Username
	e.FirstName = u.FirstName
	e.LastName = u.LastName
	e.LangCode = u.LanguageCode
}

// IsCommand reports whether the message starts with a slash command.
func (e Event) IsCommand() bool {
	return e.Kind == KindMessage && strings.HasPrefix(strings.TrimSpace(e.Text), "/")
}

// Command splits a command message into its name and whitespace separated
// parameters. A "@botname" suffix is dropped from the name.
func (e Event) Command() (string, []string) {
	if !e.IsCommand() {
		return "", nil
	}
	fields := strings.Fields(e.Text)
	name := fields[0]
	if at := strings.IndexByte(name, '@'); at > 0 {
		name = name[:at]
	}
	return name, fields[1:]
}

// ReplyTo returns the message this message replies to, if any.
func (e Event) ReplyTo() *tele.Message {
	if e.Kind != KindMessage || e.Message == nil {
		return nil
	}
	return e.Message.ReplyTo
}

// Request is what a handler receives for one routed event.
type Request struct {
	Event
	// Name is the matched command, callback route, or consumer.
	Name string
	// Args are the command parameters or the callback pattern groups.
	Args []string
	// Session is the conversation state seen by the router, after any
	// clearing it performed.
	Session state.Session
	Admin   bool

	notice string
	alert  bool
}

// Arg returns the i-th argument or "".
func (r *Request) Arg(i int) string {
	if i < 0 || i >= len(r.Args) {
		return ""
	}
	return r.Args[i]
}

// Notify sets the text shown when the pressed button is acknowledged.
// Alert shows it as a dialog instead of a toast.
func (r *Request) Notify(text string, alert bool) {
	r.notice, r.alert = text, alert
}

// Notice returns what Notify stored.
func (r *Request) Notice() (string, bool) {
	return r.notice, r.alert
}

// HandlerFunc handles a routed request.
type HandlerFunc func(ctx context.Context, req *Request) error
