package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/app/accounts"
	"github.com/m3rciful/v2raybot/app/provision"
	"github.com/m3rciful/v2raybot/core/logger"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/format"
	"github.com/m3rciful/v2raybot/core/telegram/keyboard"
)

func (b *Bot) stats(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	users, err := b.acc.Users(ctx)
	if err != nil {
		return err
	}
	a := accounts.ActivityOf(users, b.now())
	text := b.t(lang, "stats_title") + "\n" + b.sep(lang) + "\n" +
		b.t(lang, "stats_body", a.Day, a.Week, a.Month, a.Year, a.Total)
	kb := inline(
		row(btn(b.t(lang, "btn_users_day"), "stats_users_1_day"), btn(b.t(lang, "btn_users_week"), "stats_users_1_week")),
		row(btn(b.t(lang, "btn_users_month"), "stats_users_1_month"), btn(b.t(lang, "btn_users_all"), "stats_users_1_all")),
		b.backRow(lang, "menu_admin"),
	)
	return b.reply(ctx, req, text, kb)
}

// statsUsers lists the users active within a window, most recent first.
func (b *Bot) statsUsers(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	page, _ := atoi(req.Arg(0))
	window := req.Arg(1)
	users, err := b.acc.Users(ctx)
	if err != nil {
		return err
	}
	users = accounts.FilterByActivity(users, window, b.now())

	size := b.settings.UsersPerPage
	from, to, page := keyboard.Slice(page, size, len(users))
	pages := keyboard.Pages(len(users), size)

	var sb strings.Builder
	sb.WriteString(b.t(lang, "stats_users_title", b.t(lang, "window_"+window), len(users)) + "\n" + b.sep(lang) + "\n")
	if len(users) == 0 {
		sb.WriteString(b.t(lang, "stats_no_users"))
	}
	for i := from; i < to; i++ {
		u := users[i]
		sb.WriteString(b.t(lang, "stats_user_line", i+1, format.MD(u.DisplayName()), u.UserID, b.date(u.LastActive)) + "\n")
	}
	var rows [][]keyboard.InlineBtn
	if pages > 1 {
		sb.WriteString("\n" + b.t(lang, "page_line", page, pages))
		rows = append(rows, keyboard.Pager(page, pages, b.t(lang, "nav_prev"), b.t(lang, "nav_next"), func(n int) string {
			return fmt.Sprintf("stats_users_%d_%s", n, window)
		}))
	}
	rows = append(rows, b.backRow(lang, "admin_stats_full"))
	return b.reply(ctx, req, strings.TrimRight(sb.String(), "\n"), inline(rows...))
}

// onlineUsers shows the connected accounts. Opening the listing fetches it
// again; paging reads the cached copy while it lasts.
func (b *Bot) onlineUsers(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	page, paging := atoi(req.Arg(0))

	var m *tele.Message
	o, cached := b.online.Get(onlineKey)
	if !paging || !cached {
		m = b.progress(ctx, req, b.t(lang, "status_fetching_online"))
		fresh, err := b.panel.Online(ctx)
		if err != nil {
			return b.panelFailure(ctx, req, m, lang, err)
		}
		o = fresh
		if !b.online.Set(onlineKey, o) {
			logger.Warn(ctx, "bot", "online.cache_rejected",
				slog.String("status", "fail"),
				slog.Int("total", o.Total),
			)
		}
	}

	text, kb := b.onlinePage(lang, o, page)
	if m != nil {
		return b.settle(ctx, req, m, text, kb)
	}
	return b.reply(ctx, req, text, kb)
}

func (b *Bot) onlinePage(lang string, o provision.Online, page int) (string, *tele.ReplyMarkup) {
	list := o.Flatten()
	size := b.settings.OnlinePerPage
	from, to, page := keyboard.Slice(page, size, len(list))
	pages := keyboard.Pages(len(list), size)

	var sb strings.Builder
	sb.WriteString(b.t(lang, "online_title") + "\n" + b.sep(lang) + "\n")
	sb.WriteString(b.t(lang, "online_total", o.Total) + "\n")
	if len(list) == 0 {
		sb.WriteString("\n" + b.t(lang, "no_online"))
	}
	panel := ""
	for _, u := range list[from:to] {
		if u.Panel != panel {
			panel = u.Panel
			sb.WriteString("\n" + b.t(lang, "online_panel", format.MD(panel), len(o.ByPanel[panel])) + "\n")
		}
		sb.WriteString(fmt.Sprintf("%d. `%s`\n", u.Index, u.Email))
	}
	var rows [][]keyboard.InlineBtn
	if pages > 1 {
		sb.WriteString("\n" + b.t(lang, "page_line", page, pages))
		rows = append(rows, keyboard.Pager(page, pages, b.t(lang, "nav_prev"), b.t(lang, "nav_next"), func(n int) string {
			return fmt.Sprintf("online_page_%d", n)
		}))
	}
	rows = append(rows, b.backRow(lang, "menu_admin"))
	return strings.TrimRight(sb.String(), "\n"), inline(rows...)
}
