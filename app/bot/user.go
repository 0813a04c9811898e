package bot

import (
	"context"
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/app/accounts"
	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/format"
	"github.com/m3rciful/v2raybot/core/telegram/keyboard"
)

func noop(context.Context, *event.Request) error { return nil }

// start registers the user, recording a deep link referrer, and shows the
// welcome screen.
func (b *Bot) start(ctx context.Context, req *event.Request) error {
	ref := accounts.ParseReferrer(req.Arg(0))
	u, _, err := b.acc.Touch(ctx, profileOf(req.Event), ref)
	if err != nil {
		return err
	}
	lang := u.Lang
	name := format.DisplayName(req.FirstName, req.LastName, req.Username, req.UserID)

	var sb strings.Builder
	sb.WriteString(b.t(lang, "welcome", format.MD(name)))
	if ref != 0 && u.ReferrerID != nil && *u.ReferrerID == ref {
		inviter := format.MD(b.nameOf(ctx, ref))
		sb.WriteString(b.t(lang, "welcome_invited_by", inviter))
	}
	sb.WriteString("\n" + b.sep(lang) + "\n")
	sb.WriteString(b.t(lang, "welcome_bot_desc") + "\n")
	sb.WriteString(b.sep(lang) + "\n")
	sb.WriteString(b.t(lang, "welcome_join_prompt") + "\n\n")
	sb.WriteString(b.t(lang, "quick_check_tip"))

	rows := [][]keyboard.InlineBtn{
		row(btn(b.t(lang, "btn_main_menu"), "menu_main")),
		row(btn(b.t(lang, "btn_about"), "menu_about"), btn(b.t(lang, "btn_policy"), "menu_policy")),
	}
	if b.settings.ChannelURL != "" {
		rows = append(rows, row(urlBtn(b.t(lang, "btn_channel"), b.settings.ChannelURL)))
	}
	return b.reply(ctx, req, sb.String(), inline(rows...))
}

// nameOf returns the display name of a known user, or the id.
func (b *Bot) nameOf(ctx context.Context, id int64) string {
	u, err := b.acc.User(ctx, id)
	if err != nil {
		return format.DisplayName("", "", "", id)
	}
	return u.DisplayName()
}

func (b *Bot) mainMenu(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	rows := [][]keyboard.InlineBtn{
		row(btn(b.t(lang, "btn_trial"), "menu_trial"), btn(b.t(lang, "btn_mytrial"), "menu_mytrial")),
		row(btn(b.t(lang, "btn_premium"), "menu_premium"), btn(b.t(lang, "btn_referral"), "referral_back")),
		row(btn(b.t(lang, "btn_apps"), "apps_back"), btn(b.t(lang, "btn_language"), "menu_language")),
	}
	if req.Admin {
		rows = append(rows, row(btn(b.t(lang, "btn_admin"), "menu_admin")))
	}
	rows = append(rows, row(btn(b.t(lang, "btn_back_start"), "menu_start")))
	text := b.t(lang, "menu_main_title") + "\n" + b.sep(lang) + "\n" + b.t(lang, "menu_main_body")
	return b.reply(ctx, req, text, inline(rows...))
}

func (b *Bot) about(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	text := b.t(lang, "about_title") + "\n" + b.sep(lang) + "\n" + b.t(lang, "about_body")
	return b.reply(ctx, req, text, inline(b.backRow(lang, "menu_start")))
}

func (b *Bot) policy(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	text := b.t(lang, "policy_title") + "\n" + b.sep(lang) + "\n" + b.t(lang, "policy_body")
	return b.reply(ctx, req, text, inline(b.backRow(lang, "menu_start")))
}

func (b *Bot) help(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	text := b.t(lang, "help_title") + "\n" + b.sep(lang) + "\n" + b.t(lang, "help_user")
	if req.Admin {
		text += "\n\n" + b.t(lang, "help_admin")
	}
	if b.settings.Support != "" {
		text += "\n\n" + b.t(lang, "help_support", format.MD(b.settings.Support))
	}
	return b.reply(ctx, req, text, nil)
}

func (b *Bot) cancel(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	return b.reply(ctx, req, b.t(lang, "cancelled"), inline(row(btn(b.t(lang, "btn_main_menu"), "menu_main"))))
}

// choiceAbandoned answers text sent while a server choice was pending. The
// router has already cleared the state.
func (b *Bot) choiceAbandoned(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	return b.reply(ctx, req, b.t(lang, "error_redemption_state_fail"), nil)
}

// id shows the caller's record. Administrators may pass an id or @username.
func (b *Bot) id(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	target := req.UserID
	if criteria := strings.Join(req.Args, " "); criteria != "" {
		if !req.Admin {
			return b.reply(ctx, req, b.t(lang, "id_lookup_denied"), nil)
		}
		u, err := b.acc.Find(ctx, criteria)
		if errors.Is(err, accounts.ErrUserNotFound) {
			return b.reply(ctx, req, b.t(lang, "error_user_not_found", format.MD(criteria)), nil)
		}
		if err != nil {
			return err
		}
		target = u.UserID
	}
	u, err := b.acc.User(ctx, target)
	if err != nil {
		return err
	}
	return b.reply(ctx, req, b.userInfo(ctx, lang, u), nil)
}

func (b *Bot) userInfo(ctx context.Context, lang string, u ledger.User) string {
	na := b.t(lang, "na")
	referredBy := na
	if u.ReferrerID != nil {
		referredBy = format.MD(b.nameOf(ctx, *u.ReferrerID)) + " (`" + format.DisplayName("", "", "", *u.ReferrerID) + "`)"
	}
	fullName := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if fullName == "" {
		fullName = na
	}
	body := b.t(lang, "user_info_body",
		format.MD(fullName),
		usernameOf(u.Username, na),
		u.UserID,
		b.t(u.Lang, "lang_name"),
		b.yesNo(lang, u.IsBanned),
		u.Credits.StringFixed(1),
		u.ReferredCount,
		b.yesNo(lang, u.ChannelVerified),
		referredBy,
		b.date(u.JoinedAt),
	)
	return b.t(lang, "user_info_title") + "\n" + b.sep(lang) + "\n" + body
}

func (b *Bot) language(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	var btns []keyboard.InlineBtn
	for _, l := range b.cat.Langs() {
		btns = append(btns, btn(b.t(l, "lang_name"), "set_lang_"+l))
	}
	rows := append(keyboard.Chunk(btns, 2), b.backRow(lang, "menu_main"))
	return b.reply(ctx, req, b.t(lang, "lang_select_title"), inline(rows...))
}

func (b *Bot) setLang(ctx context.Context, req *event.Request) error {
	lang := req.Arg(0)
	if !b.cat.Supports(lang) {
		return nil
	}
	if err := b.acc.SetLang(ctx, req.UserID, lang); err != nil && !errors.Is(err, accounts.ErrUserNotFound) {
		return err
	}
	text := b.t(lang, "lang_confirmed", b.t(lang, "lang_name"))
	return b.reply(ctx, req, text, inline(row(btn(b.t(lang, "btn_main_menu"), "menu_main"))))
}

func (b *Bot) apps(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	kb := inline(
		row(btn("📱 iOS", "apps_ios"), btn("🤖 Android", "apps_android")),
		row(btn("🖥 Windows", "apps_windows"), btn("🍏 macOS", "apps_macos")),
		b.backRow(lang, "menu_main"),
	)
	return b.reply(ctx, req, b.t(lang, "apps_select_device"), kb)
}

func (b *Bot) appsDevice(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	return b.reply(ctx, req, b.t(lang, "apps_"+req.Arg(0)), inline(b.backRow(lang, "apps_back")))
}

func (b *Bot) trial(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_creating_trial"))
	acc, err := b.panel.CreateTrial(ctx, req.UserID)
	if err != nil {
		text := b.t(lang, "error_creation_failed") + "\n\n" + b.upstream(lang, err) + "\n\n" + b.t(lang, "tip_mytrial")
		return b.answer(b.settle(ctx, req, m, text, nil), err)
	}
	return b.settle(ctx, req, m, b.accountText(lang, b.t(lang, "trial_success_title"), acc), nil)
}

func (b *Bot) myTrial(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_retrieving_trial"))
	acc, err := b.panel.GetTrial(ctx, req.UserID)
	if err != nil {
		text := b.t(lang, "error_account_not_found") + "\n\n" + b.upstream(lang, err) + "\n\n" + b.t(lang, "tip_trial")
		return b.answer(b.settle(ctx, req, m, text, nil), err)
	}
	return b.settle(ctx, req, m, b.accountText(lang, b.t(lang, "trial_info_title"), acc), nil)
}

func (b *Bot) check(ctx context.Context, req *event.Request) error {
	config := restAfter(req.Text, 1)
	if config == "" {
		lang := b.lang(ctx, req.UserID)
		return b.reply(ctx, req, b.t(lang, "usage", b.t(lang, "check_usage")), nil)
	}
	return b.checkConfig(ctx, req, config)
}

// identifier handles free text that looks like an account link, email or
// UUID.
func (b *Bot) identifier(ctx context.Context, req *event.Request) error {
	return b.checkConfig(ctx, req, req.Arg(0))
}

func (b *Bot) checkConfig(ctx context.Context, req *event.Request, config string) error {
	lang := b.lang(ctx, req.UserID)
	m := b.progress(ctx, req, b.t(lang, "status_checking_config"))
	st, err := b.panel.Check(ctx, config)
	if err != nil {
		text := b.t(lang, "error_check_failed") + "\n\n" + b.upstream(lang, err) + "\n\n" + b.t(lang, "tip_check_config")
		return b.answer(b.settle(ctx, req, m, text, nil), err)
	}
	return b.settle(ctx, req, m, b.statusText(lang, st), nil)
}

func (b *Bot) request(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	msg := restAfter(req.Text, 1)
	if msg == "" {
		return b.reply(ctx, req, b.t(lang, "request_usage"), nil)
	}
	name := format.MD(format.DisplayName(req.FirstName, req.LastName, req.Username, req.UserID))
	at := b.date(b.now())
	b.notifyAdmins(ctx, func(adminLang string) (string, *tele.ReplyMarkup) {
		return b.t(adminLang, "admin_new_request", name, req.UserID, format.MD(msg), at), nil
	})
	return b.reply(ctx, req, b.t(lang, "request_sent"), nil)
}

// answer reports a failure the user has already seen. A failed reply is
// returned instead so the generic error text goes out.
func (b *Bot) answer(replyErr, cause error) error {
	if replyErr != nil {
		return replyErr
	}
	return answered{err: cause}
}
