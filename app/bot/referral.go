package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/app/accounts"
	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/core/logger"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/format"
	"github.com/m3rciful/v2raybot/core/telegram/keyboard"
	"github.com/m3rciful/v2raybot/core/telegram/state"
)

const historyLimit = 10

// channel is a chat addressed by "@name" or a numeric id.
type channel string

func (c channel) Recipient() string { return string(c) }

func (b *Bot) referralLink(id int64) string {
	return fmt.Sprintf("https://t.me/%s?start=r_%d", b.settings.BotUsername, id)
}

func (b *Bot) referral(ctx context.Context, req *event.Request) error {
	u, err := b.acc.User(ctx, req.UserID)
	if err != nil {
		return err
	}
	lang := u.Lang
	reward := b.acc.Settings().ReferralReward.StringFixed(1)

	var sb strings.Builder
	sb.WriteString(b.t(lang, "referral_title") + "\n" + b.sep(lang) + "\n")
	sb.WriteString(b.t(lang, "referral_desc", reward) + "\n\n")
	sb.WriteString(b.t(lang, "field_credits", u.Credits.StringFixed(1)) + "\n")
	sb.WriteString(b.t(lang, "field_referred", u.ReferredCount) + "\n")
	sb.WriteString(b.t(lang, "field_ref_link", b.referralLink(u.UserID)))

	var rows [][]keyboard.InlineBtn
	var plans []keyboard.InlineBtn
	for _, gb := range b.settings.CreditPlans {
		cost := b.acc.Quote(gb).StringFixed(1)
		plans = append(plans, btn(b.t(lang, "btn_redeem_plan", gb, cost), fmt.Sprintf("redeem_%dgb", gb)))
	}
	rows = append(rows, keyboard.Chunk(plans, 2)...)
	rows = append(rows,
		row(btn(b.t(lang, "btn_redeem_custom"), "redeem_custom_prompt")),
		row(btn(b.t(lang, "btn_my_keys"), "view_my_keys_page_1"), btn(b.t(lang, "btn_credit_history"), "show_credit_history")),
	)
	if !u.ChannelVerified {
		verify := row(btn(b.t(lang, "btn_verify_join"), "verify_channel_join"))
		if b.settings.ChannelURL != "" {
			verify = append(verify, urlBtn(b.t(lang, "btn_channel"), b.settings.ChannelURL))
		}
		rows = append(rows, verify)
	}
	rows = append(rows, b.backRow(lang, "menu_main"))
	return b.reply(ctx, req, sb.String(), inline(rows...))
}

func (b *Bot) creditHistory(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	entries, total, err := b.acc.History(ctx, req.UserID, historyLimit)
	if err != nil {
		return err
	}
	var sb strings.Builder
	sb.WriteString(b.t(lang, "credit_history_title") + "\n" + b.sep(lang) + "\n")
	if len(entries) == 0 {
		sb.WriteString(b.t(lang, "credit_history_empty"))
	}
	for _, e := range entries {
		key := "history_add"
		if e.Op == ledger.OpDeduct {
			key = "history_deduct"
		}
		sb.WriteString(b.t(lang, key, e.Amount.StringFixed(1), b.sourceLabel(lang, e.Source), b.date(e.At)) + "\n")
	}
	if total > len(entries) {
		sb.WriteString("\n" + b.t(lang, "history_footer", len(entries), total))
	}
	return b.reply(ctx, req, sb.String(), inline(b.backRow(lang, "referral_back")))
}

// sourceLabel translates a stored credit history source.
func (b *Bot) sourceLabel(lang, source string) string {
	switch source {
	case accounts.SourceVerification:
		return b.t(lang, "source_verification")
	case accounts.SourceAdminAdd:
		return b.t(lang, "source_admin_add")
	case accounts.SourceAdminDeduct:
		return b.t(lang, "source_admin_deduct")
	}
	var gb int
	if _, err := fmt.Sscanf(source, "Redeem %dGB", &gb); err == nil {
		return b.t(lang, "source_redeem", gb)
	}
	if strings.HasPrefix(source, "Referral ") {
		return b.t(lang, "source_referral")
	}
	return format.MD(source)
}

// isMember reports whether the user belongs to the configured channel. With
// no channel configured every user counts as a member.
func (b *Bot) isMember(userID int64) (bool, error) {
	if b.settings.ChannelID == "" {
		return true, nil
	}
	m, err := b.msg.ChatMemberOf(channel(b.settings.ChannelID), tele.ChatID(userID))
	if err != nil {
		return false, err
	}
	switch m.Role {
	case tele.Member, tele.Administrator, tele.Creator:
		return true, nil
	}
	return false, nil
}

func (b *Bot) verifyJoin(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	member, err := b.isMember(req.UserID)
	if err != nil {
		logger.Warn(ctx, "bot", "membership.check_fail",
			slog.String("status", "fail"),
			slog.Int64("user_id", req.UserID),
			slog.String("err", logger.SanitizeLimit(err.Error(), 128)),
		)
		return b.reply(ctx, req, b.t(lang, "error_membership_check"), inline(b.backRow(lang, "referral_back")))
	}
	if !member {
		rows := [][]keyboard.InlineBtn{row(btn(b.t(lang, "btn_verify_join"), "verify_channel_join"))}
		if b.settings.ChannelURL != "" {
			rows = append(rows, row(urlBtn(b.t(lang, "btn_channel"), b.settings.ChannelURL)))
		}
		rows = append(rows, b.backRow(lang, "referral_back"))
		return b.reply(ctx, req, b.t(lang, "status_not_joined"), inline(rows...))
	}

	v, err := b.acc.ConfirmMembership(ctx, req.UserID)
	if err != nil {
		return err
	}
	if p := v.Payout; p != nil {
		b.notify(ctx, p.ReferrerID, b.t(p.ReferrerLang, "referral_reward_notice", p.Reward.StringFixed(1), p.Balance.StringFixed(1)), nil)
	}
	return b.reply(ctx, req, b.t(lang, "status_joined"), inline(b.backRow(lang, "referral_back")))
}

// redeemProblem returns the message for a redemption precondition failure.
func (b *Bot) redeemProblem(lang string, err error) (string, bool) {
	var short *accounts.InsufficientCreditsError
	switch {
	case errors.As(err, &short):
		return b.t(lang, "error_insufficient_credits", short.Required.StringFixed(1), short.Available.StringFixed(1)), true
	case errors.Is(err, accounts.ErrNotVerified):
		return b.t(lang, "error_unverified_redeem"), true
	case errors.Is(err, accounts.ErrInvalidAmount):
		return b.t(lang, "error_invalid_gb"), true
	}
	return "", false
}

func (b *Bot) redeemPlan(ctx context.Context, req *event.Request) error {
	gb, ok := atoi(req.Arg(0))
	if !ok {
		return nil
	}
	return b.redeemSelectPanel(ctx, req, gb)
}

// redeemSelectPanel checks the redemption and asks for a server.
func (b *Bot) redeemSelectPanel(ctx context.Context, req *event.Request, gb int) error {
	lang := b.lang(ctx, req.UserID)
	if _, err := b.acc.CheckRedeem(ctx, req.UserID, gb); err != nil {
		if text, ok := b.redeemProblem(lang, err); ok {
			return b.reply(ctx, req, text, inline(b.backRow(lang, "referral_back")))
		}
		return err
	}
	if err := b.states.Set(ctx, req.UserID, StateRedeemPanel, state.Data{"gb": strconv.Itoa(gb)}); err != nil {
		return err
	}
	var btns []keyboard.InlineBtn
	for _, s := range b.settings.Servers {
		btns = append(btns, btn(b.t(lang, "panel_button", s.Name), fmt.Sprintf("redeem_panel_final_%d_%d", gb, s.Panel)))
	}
	rows := append(keyboard.Chunk(btns, 2), b.backRow(lang, "referral_back"))
	return b.reply(ctx, req, b.t(lang, "prompt_select_panel", gb), inline(rows...))
}

func (b *Bot) customPrompt(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	if err := b.states.Set(ctx, req.UserID, StateCustomQuantity, nil); err != nil {
		return err
	}
	text := b.t(lang, "prompt_custom_gb", b.acc.Quote(1).StringFixed(1))
	return b.reply(ctx, req, text, inline(row(btn(b.t(lang, "btn_cancel"), "referral_back"))))
}

// customQuantity consumes the GB amount typed after customPrompt. Invalid
// or unaffordable amounts keep the prompt open.
func (b *Bot) customQuantity(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	gb, ok := atoi(req.Text)
	if !ok || gb < 1 {
		return b.reply(ctx, req, b.t(lang, "error_invalid_gb"), nil)
	}
	_, err := b.acc.CheckRedeem(ctx, req.UserID, gb)
	var short *accounts.InsufficientCreditsError
	if errors.As(err, &short) {
		text, _ := b.redeemProblem(lang, err)
		return b.reply(ctx, req, text, nil)
	}
	if err != nil {
		if cerr := b.states.Clear(ctx, req.UserID); cerr != nil {
			return cerr
		}
		if text, ok := b.redeemProblem(lang, err); ok {
			return b.reply(ctx, req, text, nil)
		}
		return err
	}
	return b.redeemSelectPanel(ctx, req, gb)
}

func (b *Bot) redeemFinal(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	gb, okGB := atoi(req.Arg(0))
	panel, okPanel := atoi(req.Arg(1))
	if !okGB || !okPanel {
		return nil
	}
	if !b.knownServer(panel) {
		return b.reply(ctx, req, b.t(lang, "error_invalid_panel", strconv.Itoa(panel)), nil)
	}
	if req.Session.State == StateRedeemPanel {
		if err := b.states.Clear(ctx, req.UserID); err != nil {
			return err
		}
	}

	m := b.progress(ctx, req, b.t(lang, "status_redeeming", gb))
	back := inline(row(btn(b.t(lang, "btn_my_keys"), "view_my_keys_page_1")), b.backRow(lang, "referral_back"))
	r, err := b.acc.Redeem(ctx, req.UserID, gb, panel)
	if err != nil {
		if text, ok := b.redeemProblem(lang, err); ok {
			return b.settle(ctx, req, m, text, back)
		}
		text := b.t(lang, "error_creation_failed") + "\n\n" + b.upstream(lang, err) + "\n\n" + b.t(lang, "redeem_no_charge")
		return b.answer(b.settle(ctx, req, m, text, back), err)
	}

	text := b.t(lang, "redeem_success", gb, format.MD(b.serverName(panel)), r.Cost.StringFixed(1), r.Balance.StringFixed(1)) +
		"\n\n" + b.accountText(lang, b.t(lang, "field_account_name")+" `"+r.Key.Key+"`", r.Account)
	if r.Unrecorded {
		text += "\n\n" + b.t(lang, "redeem_unrecorded")
		uid := req.UserID
		b.notifyAdmins(ctx, func(adminLang string) (string, *tele.ReplyMarkup) {
			return b.t(adminLang, "admin_key_unrecorded", uid, r.Key.Key, panel, gb), nil
		})
	}
	return b.settle(ctx, req, m, text, back)
}

func (b *Bot) myKeys(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	keys, err := b.acc.Keys(ctx, req.UserID)
	if err != nil {
		return err
	}
	back := b.backRow(lang, "referral_back")
	if len(keys) == 0 {
		return b.reply(ctx, req, b.t(lang, "my_keys_title")+"\n"+b.sep(lang)+"\n"+b.t(lang, "no_keys"), inline(back))
	}

	page, _ := atoi(req.Arg(0))
	size := b.settings.KeysPerPage
	from, to, page := keyboard.Slice(page, size, len(keys))
	pages := keyboard.Pages(len(keys), size)

	var sb strings.Builder
	sb.WriteString(b.t(lang, "my_keys_title") + "\n" + b.sep(lang) + "\n")
	var rows [][]keyboard.InlineBtn
	for i := from; i < to; i++ {
		k := keys[i]
		sb.WriteString(b.t(lang, "key_line", i+1, k.GB, format.MD(b.serverName(k.Panel)), k.Key, b.date(k.RedeemedAt)) + "\n\n")
		rows = append(rows, row(btn(b.t(lang, "btn_delete_key", k.Key), fmt.Sprintf("key_delete_confirm_%s_%d", k.Key, k.Panel))))
	}
	if pages > 1 {
		sb.WriteString(b.t(lang, "page_line", page, pages))
		pager := keyboard.Pager(page, pages, b.t(lang, "nav_prev"), b.t(lang, "nav_next"), func(n int) string {
			return fmt.Sprintf("view_my_keys_page_%d", n)
		})
		rows = append(rows, pager)
	}
	rows = append(rows, back)
	return b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"), inline(rows...))
}

func (b *Bot) keyDeleteConfirm(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	name := req.Arg(0)
	panel, _ := atoi(req.Arg(1))
	if _, err := b.acc.FindKey(ctx, req.UserID, name, panel); err != nil {
		if errors.Is(err, accounts.ErrKeyNotFound) {
			return b.reply(ctx, req, b.t(lang, "error_key_not_found"), inline(b.backRow(lang, "view_my_keys_page_1")))
		}
		return err
	}
	kb := inline(
		row(btn(b.t(lang, "btn_yes_delete"), fmt.Sprintf("key_delete_final_%s_%d", name, panel))),
		b.backRow(lang, "view_my_keys_page_1"),
	)
	return b.reply(ctx, req, b.t(lang, "confirm_delete_key", name, format.MD(b.serverName(panel))), kb)
}

func (b *Bot) keyDeleteFinal(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	name := req.Arg(0)
	panel, _ := atoi(req.Arg(1))
	back := inline(b.backRow(lang, "view_my_keys_page_1"))

	m := b.progress(ctx, req, b.t(lang, "status_deleting_key", name))
	err := b.acc.DeleteKey(ctx, req.UserID, name, panel)
	switch {
	case errors.Is(err, accounts.ErrKeyNotFound):
		return b.settle(ctx, req, m, b.t(lang, "error_key_not_found"), back)
	case err != nil:
		text := b.t(lang, "key_delete_fail", name, b.upstream(lang, err))
		return b.answer(b.settle(ctx, req, m, text, back), err)
	}
	return b.settle(ctx, req, m, b.t(lang, "key_deleted", name, format.MD(b.serverName(panel))), back)
}
