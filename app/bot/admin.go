package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/app/accounts"
	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/app/provision"
	"github.com/m3rciful/v2raybot/core/logger"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/format"
	"github.com/m3rciful/v2raybot/core/telegram/keyboard"
	"github.com/m3rciful/v2raybot/core/telegram/state"
)

// Names end up in callback data, which Telegram caps at 64 bytes.
var accountName = regexp.MustCompile(`^[a-zA-Z0-9@.-]{1,32}$`)

func (b *Bot) usage(ctx context.Context, req *event.Request, key string) error {
	lang := b.lang(ctx, req.UserID)
	return b.reply(ctx, req, b.t(lang, "usage", b.t(lang, key)), nil)
}

func (b *Bot) adminMenu(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	kb := inline(
		row(btn(b.t(lang, "btn_online"), "admin_online_users"), btn(b.t(lang, "btn_stats"), "admin_stats_full")),
		row(btn(b.t(lang, "btn_run_warnings"), "admin_run_warnings"), btn(b.t(lang, "btn_broadcast"), "admin_broadcast_prompt")),
		b.backRow(lang, "menu_main"),
	)
	text := b.t(lang, "admin_menu_title") + "\n" + b.sep(lang) + "\n" + b.t(lang, "help_admin")
	return b.reply(ctx, req, text, kb)
}

func (b *Bot) broadcastPrompt(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	return b.reply(ctx, req, b.t(lang, "broadcast_prompt"), inline(b.backRow(lang, "menu_admin")))
}

// panelFailure settles m with the upstream error and marks the error as
// answered.
func (b *Bot) panelFailure(ctx context.Context, req *event.Request, m *tele.Message, lang string, err error) error {
	return b.answer(b.settle(ctx, req, m, b.upstream(lang, err), nil), err)
}

func (b *Bot) runWarnings(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	status, err := b.panel.RunWarnings(ctx)
	if err != nil {
		return b.panelFailure(ctx, req, m, lang, err)
	}
	return b.settle(ctx, req, m, b.t(lang, "warnings_success", format.MD(status)), nil)
}

func (b *Bot) optimal(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	kind := "premium"
	if strings.EqualFold(req.Arg(0), "trial") {
		kind = "trial"
	}
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	o, err := b.panel.Optimal(ctx, kind)
	if err != nil {
		return b.panelFailure(ctx, req, m, lang, err)
	}
	accountType := o.AccountType
	if accountType == "" {
		accountType = kind
	}
	return b.settle(ctx, req, m, b.t(lang, "optimal_success", strings.ToUpper(accountType), format.MD(o.PanelName), o.Panel), nil)
}

// create provisions an account directly. Without a panel argument the
// server is chosen with a button.
func (b *Bot) create(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	gb, okGB := atoi(req.Arg(0))
	name := req.Arg(1)
	if !okGB || gb < 1 || name == "" {
		return b.usage(ctx, req, "create_usage")
	}
	if !accountName.MatchString(name) {
		return b.reply(ctx, req, b.t(lang, "error_invalid_name"), nil)
	}
	days := 0
	if arg := req.Arg(2); arg != "" {
		d, ok := atoi(arg)
		if !ok || d < 0 {
			return b.usage(ctx, req, "create_usage")
		}
		days = d
	}
	if arg := req.Arg(3); arg != "" {
		panel, ok := atoi(arg)
		if !ok || !b.knownServer(panel) {
			return b.reply(ctx, req, b.t(lang, "error_invalid_panel", format.MD(arg)), nil)
		}
		return b.runCreate(ctx, req, provision.CreateRequest{GB: gb, Name: name, Days: days, Panel: panel})
	}

	data := state.Data{"gb": strconv.Itoa(gb), "name": name, "days": strconv.Itoa(days)}
	if err := b.states.Set(ctx, req.UserID, StateCreatePanel, data); err != nil {
		return err
	}
	var btns []keyboard.InlineBtn
	for _, s := range b.settings.Servers {
		data := fmt.Sprintf("admin_create_panel_%d_%d_%d_%s", gb, days, s.Panel, name)
		btns = append(btns, btn(b.t(lang, "panel_button", s.Name), data))
	}
	rows := append(keyboard.Chunk(btns, 2), row(btn(b.t(lang, "btn_cancel"), "menu_admin")))
	return b.reply(ctx, req, b.t(lang, "prompt_select_panel_create", name, gb), inline(rows...))
}

func (b *Bot) createPanel(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	gb, _ := atoi(req.Arg(0))
	days, _ := atoi(req.Arg(1))
	panel, _ := atoi(req.Arg(2))
	name := req.Arg(3)
	if req.Session.State == StateCreatePanel {
		if err := b.states.Clear(ctx, req.UserID); err != nil {
			return err
		}
	}
	if !b.knownServer(panel) {
		return b.reply(ctx, req, b.t(lang, "error_invalid_panel", strconv.Itoa(panel)), nil)
	}
	return b.runCreate(ctx, req, provision.CreateRequest{GB: gb, Name: name, Days: days, Panel: panel})
}

func (b *Bot) runCreate(ctx context.Context, req *event.Request, cr provision.CreateRequest) error {
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	acc, err := b.panel.CreateAccount(ctx, cr)
	if err != nil {
		text := b.t(lang, "error_admin_create_failed") + "\n\n" + b.upstream(lang, err)
		return b.answer(b.settle(ctx, req, m, text, nil), err)
	}
	text := b.t(lang, "admin_create_success") + "\n\n" +
		b.accountText(lang, b.t(lang, "field_account_name")+" `"+cr.Name+"`", acc)
	return b.settle(ctx, req, m, text, nil)
}

// namePanel parses the "<name> <panel>" arguments shared by several
// commands.
func (b *Bot) namePanel(req *event.Request) (string, int, bool) {
	name := req.Arg(0)
	panel, ok := atoi(req.Arg(1))
	return name, panel, ok && name != ""
}

func (b *Bot) delPrem(ctx context.Context, req *event.Request) error {
	name, panel, ok := b.namePanel(req)
	if !ok {
		return b.usage(ctx, req, "delprem_usage")
	}
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	if err := b.panel.DeleteAccount(ctx, name, panel); err != nil {
		return b.panelFailure(ctx, req, m, lang, err)
	}
	return b.settle(ctx, req, m, b.t(lang, "delprem_success", name, format.MD(b.serverName(panel))), nil)
}

func (b *Bot) delTrial(ctx context.Context, req *event.Request) error {
	name := req.Arg(0)
	if name == "" {
		return b.usage(ctx, req, "deltrial_usage")
	}
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	if err := b.panel.DeleteTrial(ctx, name); err != nil {
		return b.panelFailure(ctx, req, m, lang, err)
	}
	return b.settle(ctx, req, m, b.t(lang, "deltrial_success", name), nil)
}

// delExpired removes expired accounts of one panel, or of all panels.
func (b *Bot) delExpired(ctx context.Context, req *event.Request) error {
	arg := req.Arg(0)
	panel := 0
	if !strings.EqualFold(arg, "all") {
		p, ok := atoi(arg)
		if !ok || p < 1 {
			return b.usage(ctx, req, "delexp_usage")
		}
		panel = p
	}
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	rep, err := b.panel.DeleteExpired(ctx, panel)
	if err != nil {
		return b.panelFailure(ctx, req, m, lang, err)
	}
	server := rep.PanelName
	if server == "" {
		server = arg
		if panel != 0 {
			server = b.serverName(panel)
		}
	}
	text := b.t(lang, "delexp_done", format.MD(server), rep.DeletedCount, rep.TotalExpiredFound, format.MD(rep.Status))
	if n := len(rep.FailedDeletions); n > 0 {
		text += "\n" + b.t(lang, "delexp_failed", n)
	}
	return b.settle(ctx, req, m, text, nil)
}

func (b *Bot) transfer(ctx context.Context, req *event.Request) error {
	name := req.Arg(0)
	from, okFrom := atoi(req.Arg(1))
	to, okTo := atoi(req.Arg(2))
	if name == "" || !okFrom || !okTo {
		return b.usage(ctx, req, "transfer_usage")
	}
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	acc, err := b.panel.Transfer(ctx, name, from, to)
	if err != nil {
		return b.panelFailure(ctx, req, m, lang, err)
	}
	text := b.t(lang, "transfer_success", format.MD(b.serverName(from)), format.MD(b.serverName(to)), name)
	if acc.Link != "" {
		text += "\n\n" + b.t(lang, "field_link") + "\n`" + acc.Link + "`"
	}
	return b.settle(ctx, req, m, text, nil)
}

func (b *Bot) resetTraffic(ctx context.Context, req *event.Request) error {
	name, panel, ok := b.namePanel(req)
	if !ok {
		return b.usage(ctx, req, "reset_usage")
	}
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	acc, err := b.panel.ResetTraffic(ctx, name, panel)
	if err != nil {
		return b.panelFailure(ctx, req, m, lang, err)
	}
	return b.settle(ctx, req, m, b.t(lang, "reset_success", name, format.MD(b.serverName(panel)), b.statusOf(lang, acc)), nil)
}

func (b *Bot) modify(ctx context.Context, req *event.Request) error {
	name, panel, ok := b.namePanel(req)
	gb, okGB := atoi(req.Arg(2))
	days, okDays := atoi(req.Arg(3))
	if !ok || !okGB || !okDays || gb < 0 || days < 0 {
		return b.usage(ctx, req, "mod_usage")
	}
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	acc, err := b.panel.Modify(ctx, provision.ModifyRequest{Name: name, Panel: panel, GB: gb, Days: days, Password: req.Arg(4)})
	if err != nil {
		return b.panelFailure(ctx, req, m, lang, err)
	}
	return b.settle(ctx, req, m, b.t(lang, "mod_success", name, format.MD(b.serverName(panel)), b.statusOf(lang, acc)), nil)
}

func (b *Bot) statusOf(lang string, acc provision.Account) string {
	if s := acc.Status.String(); s != "" {
		return format.MD(s)
	}
	return b.t(lang, "status_active")
}

// bulk creates one account per comma separated name.
func (b *Bot) bulk(ctx context.Context, req *event.Request) error {
	gb, okGB := atoi(req.Arg(0))
	days, okDays := atoi(req.Arg(1))
	panel, okPanel := atoi(req.Arg(2))
	var names []string
	for _, n := range strings.Split(restAfter(req.Text, 4), ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	if !okGB || !okDays || !okPanel || gb < 1 || days < 0 || len(names) == 0 {
		return b.usage(ctx, req, "bulk_usage")
	}
	lang := b.lang(ctx, req.UserID)
	for _, n := range names {
		if !accountName.MatchString(n) {
			return b.reply(ctx, req, b.t(lang, "error_invalid_name"), nil)
		}
	}
	m := b.progress(ctx, req, b.t(lang, "status_working"))
	rep, err := b.panel.Bulk(ctx, names, gb, days, panel)
	if err != nil {
		return b.panelFailure(ctx, req, m, lang, err)
	}
	count := rep.NamesCount
	if count == 0 {
		count = len(names)
	}
	return b.settle(ctx, req, m, b.t(lang, "bulk_success", count, gb, format.MD(b.serverName(panel)), format.MD(rep.Status)), nil)
}

func (b *Bot) ban(ctx context.Context, req *event.Request) error {
	return b.setBan(ctx, req, true)
}

func (b *Bot) unban(ctx context.Context, req *event.Request) error {
	return b.setBan(ctx, req, false)
}

func (b *Bot) setBan(ctx context.Context, req *event.Request, banned bool) error {
	criteria := strings.Join(req.Args, " ")
	if criteria == "" {
		if banned {
			return b.usage(ctx, req, "ban_usage")
		}
		return b.usage(ctx, req, "unban_usage")
	}
	lang := b.lang(ctx, req.UserID)
	target, err := b.acc.Find(ctx, criteria)
	if errors.Is(err, accounts.ErrUserNotFound) {
		return b.reply(ctx, req, b.t(lang, "error_user_not_found", format.MD(criteria)), nil)
	}
	if err != nil {
		return err
	}
	u, err := b.acc.SetBanned(ctx, target.UserID, banned)
	switch {
	case errors.Is(err, accounts.ErrAdminTarget):
		return b.reply(ctx, req, b.t(lang, "error_cannot_ban_admin"), nil)
	case errors.Is(err, accounts.ErrAlreadyBanned):
		return b.reply(ctx, req, b.t(lang, "error_already_banned"), nil)
	case errors.Is(err, accounts.ErrNotBanned):
		return b.reply(ctx, req, b.t(lang, "error_not_banned"), nil)
	case err != nil:
		return err
	}
	name := format.MD(u.DisplayName())
	if banned {
		b.notify(ctx, u.UserID, b.t(u.Lang, "user_banned_notification"), nil)
		return b.reply(ctx, req, b.t(lang, "ban_success", name), nil)
	}
	b.notify(ctx, u.UserID, b.t(u.Lang, "user_unbanned_notification"), nil)
	return b.reply(ctx, req, b.t(lang, "unban_success", name), nil)
}

func (b *Bot) addCredit(ctx context.Context, req *event.Request) error {
	return b.adjustCredit(ctx, req, ledger.OpAdd)
}

func (b *Bot) removeCredit(ctx context.Context, req *event.Request) error {
	return b.adjustCredit(ctx, req, ledger.OpDeduct)
}

func (b *Bot) adjustCredit(ctx context.Context, req *event.Request, op ledger.CreditOp) error {
	usage, source := "addcredit_usage", accounts.SourceAdminAdd
	done, told := "credit_added", "credit_added_user"
	if op == ledger.OpDeduct {
		usage, source = "removecredit_usage", accounts.SourceAdminDeduct
		done, told = "credit_removed", "credit_removed_user"
	}
	criteria, raw := req.Arg(0), req.Arg(1)
	if criteria == "" || raw == "" {
		return b.usage(ctx, req, usage)
	}
	lang := b.lang(ctx, req.UserID)
	amount, err := decimal.NewFromString(raw)
	if err != nil || !amount.IsPositive() {
		return b.reply(ctx, req, b.t(lang, "credit_value_error"), nil)
	}
	amount = accounts.Round(amount)
	if !amount.IsPositive() {
		return b.reply(ctx, req, b.t(lang, "credit_value_error"), nil)
	}

	target, err := b.acc.Find(ctx, criteria)
	if errors.Is(err, accounts.ErrUserNotFound) {
		return b.reply(ctx, req, b.t(lang, "error_user_not_found", format.MD(criteria)), nil)
	}
	if err != nil {
		return err
	}
	balance, err := b.acc.Adjust(ctx, target.UserID, amount, op, source)
	if err != nil {
		return err
	}
	amt, bal := amount.StringFixed(1), balance.StringFixed(1)
	b.notify(ctx, target.UserID, b.t(target.Lang, told, amt, bal), nil)
	return b.reply(ctx, req, b.t(lang, done, amt, format.MD(target.DisplayName()), bal), nil)
}

func (b *Bot) replyUser(ctx context.Context, req *event.Request) error {
	target, ok := atoi64(req.Arg(0))
	msg := restAfter(req.Text, 2)
	if !ok || msg == "" {
		return b.usage(ctx, req, "reply_usage")
	}
	lang := b.lang(ctx, req.UserID)
	text := b.t(b.lang(ctx, target), "reply_from_admin", format.MD(msg))
	if _, err := b.msg.Send(tele.ChatID(target), clip(text), sendOpts(nil)); err != nil {
		logger.Warn(ctx, "bot", "reply.fail",
			slog.String("status", "fail"),
			slog.Int64("target_id", target),
			slog.String("err", logger.SanitizeLimit(err.Error(), 128)),
		)
		return b.reply(ctx, req, b.t(lang, "reply_fail"), nil)
	}
	return b.reply(ctx, req, b.t(lang, "reply_success", format.MD(b.nameOf(ctx, target)), target, format.MD(msg)), nil)
}

func (b *Bot) getKV(ctx context.Context, req *event.Request) error {
	key := req.Arg(0)
	if key == "" {
		return b.usage(ctx, req, "getkv_usage")
	}
	lang := b.lang(ctx, req.UserID)
	raw, ok, err := b.ledger.GetRaw(ctx, key)
	if err != nil {
		return b.reply(ctx, req, b.t(lang, "kv_error", format.MD(err.Error())), nil)
	}
	if !ok {
		raw = []byte("null")
	}
	return b.reply(ctx, req, b.t(lang, "kv_get", key, pretty(raw)), nil)
}

// setKV overwrites a stored document. Without a value the next message is
// taken as the value.
func (b *Bot) setKV(ctx context.Context, req *event.Request) error {
	key := req.Arg(0)
	if key == "" {
		return b.usage(ctx, req, "setkv_usage")
	}
	if value := restAfter(req.Text, 2); value != "" {
		return b.storeKV(ctx, req, key, value)
	}
	lang := b.lang(ctx, req.UserID)
	if err := b.states.Set(ctx, req.UserID, StateKVValue, state.Data{"key": key}); err != nil {
		return err
	}
	return b.reply(ctx, req, b.t(lang, "kv_prompt_value", key), nil)
}

func (b *Bot) kvValue(ctx context.Context, req *event.Request) error {
	key := req.Session.Data.String("key")
	if err := b.states.Clear(ctx, req.UserID); err != nil {
		return err
	}
	if key == "" || !req.Admin {
		return nil
	}
	return b.storeKV(ctx, req, key, strings.TrimSpace(req.Text))
}

// storeKV writes value under key. Text that is not JSON is stored as a JSON
// string.
func (b *Bot) storeKV(ctx context.Context, req *event.Request, key, value string) error {
	lang := b.lang(ctx, req.UserID)
	raw := []byte(value)
	var warn string
	if !json.Valid(raw) {
		raw, _ = json.Marshal(value)
		warn = b.t(lang, "kv_not_json", key) + "\n\n"
	}
	if err := b.ledger.PutRaw(ctx, key, raw); err != nil {
		return b.reply(ctx, req, b.t(lang, "kv_error", format.MD(err.Error())), nil)
	}
	logger.Info(ctx, "bot", "kv.set",
		slog.String("status", "ok"),
		slog.String("key", key),
		slog.Int("bytes", len(raw)),
	)
	return b.reply(ctx, req, warn+b.t(lang, "kv_set", key, pretty(raw)), nil)
}

func pretty(raw []byte) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
