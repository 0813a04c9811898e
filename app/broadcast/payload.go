package broadcast

import (
	"errors"

	tele "gopkg.in/telebot.v4"
)

// ErrUnsupported is returned for messages that cannot be broadcast.
var ErrUnsupported = errors.New("broadcast: unsupported message")

// Kind is the payload media kind.
type Kind string

const (
	KindText     Kind = "text"
	KindPhoto    Kind = "photo"
	KindDocument Kind = "document"
	KindVideo    Kind = "video"
)

// Payload is the message sent to every recipient. Text is the caption for
// media kinds.
type Payload struct {
	Kind   Kind
	Text   string
	FileID string
}

// FromMessage extracts a payload from the message an admin replied to.
func FromMessage(m *tele.Message) (Payload, error) {
	switch {
	case m == nil:
		return Payload{}, ErrUnsupported
	case m.Photo != nil:
		return Payload{Kind: KindPhoto, FileID: m.Photo.FileID, Text: m.Caption}, nil
	case m.Video != nil:
		return Payload{Kind: KindVideo, FileID: m.Video.FileID, Text: m.Caption}, nil
	case m.Document != nil:
		return Payload{Kind: KindDocument, FileID: m.Document.FileID, Text: m.Caption}, nil
	case m.Text != "":
		return Payload{Kind: KindText, Text: m.Text}, nil
	}
	return Payload{}, ErrUnsupported
}

// Sendable returns what to pass to tele.Bot.Send.
func (p Payload) Sendable() (interface{}, error) {
	file := tele.File{FileID: p.FileID}
	switch p.Kind {
	case KindText:
		if p.Text == "" {
			return nil, ErrUnsupported
		}
		return p.Text, nil
	case KindPhoto:
		return &tele.Photo{File: file, Caption: p.Text}, nil
	case KindVideo:
		return &tele.Video{File: file, Caption: p.Text}, nil
	case KindDocument:
		return &tele.Document{File: file, Caption: p.Text}, nil
	}
	return nil, ErrUnsupported
}
