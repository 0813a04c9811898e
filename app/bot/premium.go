package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/app/accounts"
	"github.com/m3rciful/v2raybot/core/logger"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/format"
	"github.com/m3rciful/v2raybot/core/telegram/keyboard"
	"github.com/m3rciful/v2raybot/core/telegram/state"
)

var txidDrop = regexp.MustCompile(`[^\w]+`)

func (b *Bot) premium(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	var plans []keyboard.InlineBtn
	for _, p := range b.settings.PremiumPlans {
		plans = append(plans, btn(b.t(lang, "btn_plan", p.GB, p.Price), fmt.Sprintf("premium_select_%d", p.GB)))
	}
	rows := keyboard.Chunk(plans, 2)
	rows = append(rows,
		row(btn(b.t(lang, "btn_view_plans"), "menu_premium_desc")),
		b.backRow(lang, "menu_main"),
	)
	text := b.t(lang, "premium_title") + "\n" + b.sep(lang) + "\n" + b.t(lang, "premium_select_plan")
	return b.reply(ctx, req, text, inline(rows...))
}

func (b *Bot) premiumDesc(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	text := b.t(lang, "premium_desc_title") + "\n" + b.sep(lang) + "\n" + b.t(lang, "premium_desc_body", b.settings.PremiumDays)
	return b.reply(ctx, req, text, inline(b.backRow(lang, "menu_premium")))
}

func (b *Bot) premiumSelect(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	gb, _ := atoi(req.Arg(0))
	p, ok := b.plan(gb)
	if !ok {
		return b.reply(ctx, req, b.t(lang, "error_plan_not_found"), inline(b.backRow(lang, "menu_premium")))
	}
	var methods []keyboard.InlineBtn
	for _, m := range b.settings.PaymentMethods {
		methods = append(methods, btn(m.Name(lang), fmt.Sprintf("method_select_%d_%s", p.GB, m.Key)))
	}
	rows := append(keyboard.Chunk(methods, 2), b.backRow(lang, "menu_premium"))
	return b.reply(ctx, req, b.t(lang, "prompt_select_method", p.GB, format.MD(p.Price)), inline(rows...))
}

// methodSelect shows the payment instructions and waits for the
// transaction ID. Choosing again replaces the pending order.
func (b *Bot) methodSelect(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	gb, _ := atoi(req.Arg(0))
	p, okPlan := b.plan(gb)
	m, okMethod := b.method(req.Arg(1))
	if !okPlan || !okMethod {
		return b.reply(ctx, req, b.t(lang, "error_plan_not_found"), inline(b.backRow(lang, "menu_premium")))
	}
	data := state.Data{"gb": strconv.Itoa(p.GB), "method": m.Key}
	if err := b.states.Set(ctx, req.UserID, StatePaymentProof, data); err != nil {
		return err
	}
	text := b.t(lang, "payment_details", p.GB, format.MD(p.Price), format.MD(m.Name(lang)), format.MD(m.AccountName), m.Number)
	return b.reply(ctx, req, text, inline(row(btn(b.t(lang, "btn_cancel"), "menu_premium"))))
}

// paymentProof consumes the transaction ID of a pending order and forwards
// the order to the administrators.
func (b *Bot) paymentProof(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	txid := txidDrop.ReplaceAllString(req.Text, "")
	if txid == "" {
		return b.reply(ctx, req, b.t(lang, "error_no_txid"), nil)
	}
	gb, _ := req.Session.Data.Int("gb")
	p, okPlan := b.plan(gb)
	m, okMethod := b.method(req.Session.Data.String("method"))
	if err := b.states.Clear(ctx, req.UserID); err != nil {
		return err
	}
	if !okPlan || !okMethod {
		return b.reply(ctx, req, b.t(lang, "error_plan_not_found"), nil)
	}

	uid := req.UserID
	name := format.MD(format.DisplayName(req.FirstName, req.LastName, req.Username, uid))
	at := b.date(b.now())
	b.notifyAdmins(ctx, func(adminLang string) (string, *tele.ReplyMarkup) {
		text := b.t(adminLang, "admin_new_purchase",
			format.MD(m.Name(adminLang)), txid, uid, at,
			name, uid, usernameOf(req.Username, b.t(adminLang, "na")),
			p.GB, format.MD(p.Price),
			uid, p.GB, uid,
		)
		kb := inline(row(
			btn(b.t(adminLang, "btn_admin_approve", p.GB), fmt.Sprintf("admin_approve_%d_%d", uid, p.GB)),
			btn(b.t(adminLang, "btn_admin_reject"), fmt.Sprintf("admin_reject_%d", uid)),
		))
		return text, kb
	})
	logger.Info(ctx, "bot", "payment.submitted",
		slog.String("status", "ok"),
		slog.Int64("user_id", uid),
		slog.Int("gb", p.GB),
		slog.String("method", m.Key),
	)
	return b.reply(ctx, req, b.t(lang, "txid_submitted", txid), nil)
}

func (b *Bot) approveCommand(ctx context.Context, req *event.Request) error {
	target, okID := atoi64(req.Arg(0))
	gb, okGB := atoi(req.Arg(1))
	if !okID || !okGB || gb < 1 {
		lang := b.lang(ctx, req.UserID)
		return b.reply(ctx, req, b.t(lang, "usage", b.t(lang, "approve_usage")), nil)
	}
	return b.approve(ctx, req, target, gb)
}

func (b *Bot) approveButton(ctx context.Context, req *event.Request) error {
	target, _ := atoi64(req.Arg(0))
	gb, _ := atoi(req.Arg(1))
	return b.approve(ctx, req, target, gb)
}

// approve provisions the paid plan and delivers it to the buyer.
func (b *Bot) approve(ctx context.Context, req *event.Request, target int64, gb int) error {
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_creating_premium", target))
	issued, err := b.acc.IssuePremium(ctx, target, gb)
	if errors.Is(err, accounts.ErrUserNotFound) {
		return b.settle(ctx, req, m, b.t(lang, "error_user_not_found", strconv.FormatInt(target, 10)), nil)
	}
	if err != nil {
		text := b.t(lang, "error_admin_create_failed") + "\n\n" + b.upstream(lang, err)
		return b.answer(b.settle(ctx, req, m, text, nil), err)
	}

	userLang := issued.User.Lang
	b.notify(ctx, target, b.accountText(userLang, b.t(userLang, "approval_success_user", issued.GB), issued.Account), nil)
	logger.Info(ctx, "bot", "premium.approved",
		slog.String("status", "ok"),
		slog.Int64("user_id", target),
		slog.Int("gb", issued.GB),
		slog.String("key", issued.Name),
	)
	text := b.t(lang, "admin_create_success") + "\n" +
		b.t(lang, "field_telegram_id") + " `" + strconv.FormatInt(target, 10) + "`\n\n" +
		b.accountText(lang, b.t(lang, "field_account_name")+" `"+issued.Name+"`", issued.Account)
	return b.settle(ctx, req, m, text, nil)
}

func (b *Bot) rejectCommand(ctx context.Context, req *event.Request) error {
	target, ok := atoi64(req.Arg(0))
	if !ok {
		lang := b.lang(ctx, req.UserID)
		return b.reply(ctx, req, b.t(lang, "usage", b.t(lang, "reject_usage")), nil)
	}
	return b.reject(ctx, req, target)
}

func (b *Bot) rejectButton(ctx context.Context, req *event.Request) error {
	target, _ := atoi64(req.Arg(0))
	return b.reject(ctx, req, target)
}

func (b *Bot) reject(ctx context.Context, req *event.Request, target int64) error {
	lang := b.lang(ctx, req.UserID)
	var kb *tele.ReplyMarkup
	if b.settings.OwnerURL != "" {
		kb = inline(row(urlBtn(b.t(b.lang(ctx, target), "btn_contact_admin"), b.settings.OwnerURL)))
	}
	b.notify(ctx, target, b.t(b.lang(ctx, target), "approval_rejected_user"), kb)
	logger.Info(ctx, "bot", "premium.rejected",
		slog.String("status", "ok"),
		slog.Int64("user_id", target),
	)
	return b.reply(ctx, req, b.t(lang, "admin_rejection_done", target), nil)
}
