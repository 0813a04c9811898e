package bot

import (
	"context"
	"log/slog"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/app/broadcast"
	"github.com/m3rciful/v2raybot/core/logger"
	"github.com/m3rciful/v2raybot/core/telegram/event"
)

// broadcast sends the message the administrator replied to to every known
// user. The run continues in the background and reports progress by
// editing one status message.
func (b *Bot) broadcast(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	src := req.ReplyTo()
	if src == nil {
		return b.reply(ctx, req, b.t(lang, "broadcast_usage"), nil)
	}
	payload, err := broadcast.FromMessage(src)
	if err != nil {
		return b.reply(ctx, req, b.t(lang, "broadcast_unsupported"), nil)
	}
	ids, err := b.acc.Population(ctx)
	if err != nil {
		return err
	}

	status, err := b.msg.Send(tele.ChatID(req.ChatID), b.t(lang, "broadcast_started", len(ids)), sendOpts(nil))
	if err != nil {
		return err
	}

	runCtx := context.WithoutCancel(ctx)
	d := broadcast.New(broadcast.Via(b.msg), b.bcast)
	b.spawn(func() {
		rep := d.Run(runCtx, ids, payload, func(p broadcast.Progress) {
			text := b.t(lang, "broadcast_progress", p.Batch, p.Batches, p.Success, p.Failed, p.Total)
			b.editStatus(runCtx, status, text)
		})
		took := logger.RoundMS(rep.Elapsed).String()
		b.editStatus(runCtx, status, b.t(lang, "broadcast_done", rep.Success, rep.Failed, rep.Blocked, rep.Total, took))
	})
	return nil
}

func (b *Bot) editStatus(ctx context.Context, m *tele.Message, text string) {
	if _, err := b.msg.Edit(m, text, sendOpts(nil)); err != nil && !notModified(err) {
		logger.Debug(ctx, "broadcast", "status.edit_fail",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 128)),
		)
	}
}
