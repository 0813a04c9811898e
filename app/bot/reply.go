package bot

import (
	"context"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/core/logger"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/keyboard"
)

// Telegram rejects longer texts.
const maxText = 4000

func sendOpts(kb *tele.ReplyMarkup) *tele.SendOptions {
	return &tele.SendOptions{ParseMode: tele.ModeMarkdown, DisableWebPagePreview: true, ReplyMarkup: kb}
}

func notModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

// reply edits the message of a pressed button, or sends a new message.
func (b *Bot) reply(ctx context.Context, req *event.Request, text string, kb *tele.ReplyMarkup) error {
	text = clip(text)
	if req.Kind == event.KindCallback && req.Message != nil {
		_, err := b.msg.Edit(req.Message, text, sendOpts(kb))
		if err == nil || notModified(err) {
			return nil
		}
		logger.Debug(ctx, "tg.sender", "edit.fallback",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 128)),
		)
	}
	_, err := b.msg.Send(tele.ChatID(req.ChatID), text, sendOpts(kb))
	return err
}

// progress shows a status line for a slow operation and returns the message
// to settle once the operation ends. It is nil when nothing could be shown.
func (b *Bot) progress(ctx context.Context, req *event.Request, text string) *tele.Message {
	if req.Kind == event.KindCallback && req.Message != nil {
		if m, err := b.msg.Edit(req.Message, text, sendOpts(nil)); err == nil && m != nil {
			return m
		}
		return req.Message
	}
	m, err := b.msg.Send(tele.ChatID(req.ChatID), text, sendOpts(nil))
	if err != nil {
		logger.Debug(ctx, "tg.sender", "progress.fail",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 128)),
		)
		return nil
	}
	return m
}

// settle replaces the status message with the final text.
func (b *Bot) settle(ctx context.Context, req *event.Request, m *tele.Message, text string, kb *tele.ReplyMarkup) error {
	text = clip(text)
	if m != nil {
		_, err := b.msg.Edit(m, text, sendOpts(kb))
		if err == nil || notModified(err) {
			return nil
		}
	}
	_, err := b.msg.Send(tele.ChatID(req.ChatID), text, sendOpts(kb))
	return err
}

// notify sends text to another user through the outbox.
func (b *Bot) notify(ctx context.Context, userID int64, text string, kb *tele.ReplyMarkup) {
	text = clip(text)
	send := func(context.Context) error {
		_, err := b.msg.Send(tele.ChatID(userID), text, sendOpts(kb))
		return err
	}
	if b.outbox != nil {
		err := b.outbox.Enqueue(ctx, "notify", "sendMessage", send)
		if err == nil {
			return
		}
		logger.Warn(ctx, "tg.sender", "notify.enqueue_fail",
			slog.String("status", "fail"),
			slog.Int64("target_id", userID),
			slog.String("err", err.Error()),
		)
	}
	if err := send(ctx); err != nil {
		logger.Warn(ctx, "tg.sender", "notify.fail",
			slog.String("status", "fail"),
			slog.Int64("target_id", userID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 128)),
		)
	}
}

// notifyAdmins sends every administrator the text built for their language.
func (b *Bot) notifyAdmins(ctx context.Context, build func(lang string) (string, *tele.ReplyMarkup)) {
	for _, id := range b.settings.Admins {
		text, kb := build(b.lang(ctx, id))
		b.notify(ctx, id, text, kb)
	}
}

func clip(text string) string {
	if len(text) <= maxText {
		return text
	}
	cut := maxText
	for cut > 0 && !isRuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "…"
}

func isRuneStart(c byte) bool { return c&0xC0 != 0x80 }

var mdMarks = strings.NewReplacer("*", "", "_", "", "`", "")

// stripMarkdown turns a message text into a plain callback notice.
func stripMarkdown(text string) string {
	return mdMarks.Replace(text)
}

// restAfter returns text with its first n whitespace separated fields
// removed, keeping the spacing of the remainder.
func restAfter(text string, n int) string {
	text = strings.TrimSpace(text)
	for i := 0; i < n && text != ""; i++ {
		end := strings.IndexAny(text, " \t\n")
		if end < 0 {
			return ""
		}
		text = strings.TrimSpace(text[end:])
	}
	return text
}

func btn(text, data string) keyboard.InlineBtn { return keyboard.Data(text, data) }
func urlBtn(text, url string) keyboard.InlineBtn { return keyboard.URL(text, url) }
func row(btns ...keyboard.InlineBtn) []keyboard.InlineBtn { return btns }

func inline(rows ...[]keyboard.InlineBtn) *tele.ReplyMarkup {
	return keyboard.InlineButtonsRows(rows...)
}

func (b *Bot) backRow(lang, data string) []keyboard.InlineBtn {
	return row(btn(b.t(lang, "btn_back"), data))
}
