// Package bot binds the account operations to Telegram: commands, buttons
// and the text consumers of pending conversation states.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maypok86/otter"
	tele "gopkg.in/telebot.v4"

	"github.com/m3rciful/v2raybot/app/accounts"
	"github.com/m3rciful/v2raybot/app/broadcast"
	"github.com/m3rciful/v2raybot/app/config"
	"github.com/m3rciful/v2raybot/app/i18n"
	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/app/provision"
	"github.com/m3rciful/v2raybot/core/logger"
	tg "github.com/m3rciful/v2raybot/core/telegram"
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/middleware"
	"github.com/m3rciful/v2raybot/core/telegram/router"
	"github.com/m3rciful/v2raybot/core/telegram/sender"
	"github.com/m3rciful/v2raybot/core/telegram/state"
)

// Pending conversation states.
const (
	StatePaymentProof   state.State = "awaiting_payment_proof"
	StateCustomQuantity state.State = "awaiting_custom_quantity"
	StateRedeemPanel    state.State = "awaiting_redeem_panel_choice"
	StateCreatePanel    state.State = "awaiting_create_panel_choice"
	StateKVValue        state.State = "awaiting_kv_value"
)

// Panel is the provisioning API as the handlers use it.
type Panel interface {
	CreateTrial(ctx context.Context, telegramID int64) (provision.Account, error)
	GetTrial(ctx context.Context, telegramID int64) (provision.Account, error)
	CreateAccount(ctx context.Context, req provision.CreateRequest) (provision.Account, error)
	DeleteAccount(ctx context.Context, name string, panel int) error
	DeleteTrial(ctx context.Context, name string) error
	DeleteExpired(ctx context.Context, panel int) (provision.CleanupReport, error)
	Check(ctx context.Context, config string) (provision.AccountStatus, error)
	Transfer(ctx context.Context, name string, fromPanel, toPanel int) (provision.Account, error)
	ResetTraffic(ctx context.Context, name string, panel int) (provision.Account, error)
	Modify(ctx context.Context, req provision.ModifyRequest) (provision.Account, error)
	Bulk(ctx context.Context, names []string, gb, days, panel int) (provision.BulkReport, error)
	RunWarnings(ctx context.Context) (string, error)
	Optimal(ctx context.Context, accountType string) (provision.OptimalPanel, error)
	Online(ctx context.Context) (provision.Online, error)
}

var _ Panel = (*provision.Client)(nil)

// Settings are the presentation and policy values of the bot.
type Settings struct {
	BotUsername string
	// ChannelID is "@name" or a numeric chat id; empty disables verification.
	ChannelID  string
	ChannelURL string
	OwnerURL   string
	Support    string

	CreditPlans    []int
	PremiumPlans   []config.Plan
	PremiumDays    int
	PaymentMethods []config.PaymentMethod
	Servers        []config.Server

	UsersPerPage   int
	KeysPerPage    int
	OnlinePerPage  int
	OnlineCacheTTL time.Duration

	Location            *time.Location
	DropBannedCallbacks bool
	Admins              []int64
}

// SettingsFrom extracts the bot settings from a normalized config.
func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		BotUsername:         cfg.Telegram.Username,
		ChannelID:           cfg.Bot.ChannelID,
		ChannelURL:          cfg.Bot.ChannelURL,
		OwnerURL:            cfg.Bot.OwnerURL,
		Support:             cfg.Bot.Support,
		CreditPlans:         cfg.Bot.CreditPlans,
		PremiumPlans:        cfg.Bot.PremiumPlans,
		PremiumDays:         cfg.Bot.PremiumDefaultDays,
		PaymentMethods:      cfg.Bot.PaymentMethods,
		Servers:             cfg.Bot.Servers,
		UsersPerPage:        cfg.Bot.UsersPerPage,
		KeysPerPage:         cfg.Bot.KeysPerPage,
		OnlinePerPage:       cfg.Bot.OnlinePerPage,
		OnlineCacheTTL:      cfg.Bot.OnlineCacheTTL,
		Location:            cfg.Location(),
		DropBannedCallbacks: *cfg.Bot.DropBannedCallbacks,
		Admins:              cfg.Bot.AdminIDs,
	}
}

// Deps are the collaborators of the bot.
type Deps struct {
	Messenger sender.Messenger
	Accounts  *accounts.Service
	Panel     Panel
	Ledger    *ledger.Ledger
	States    state.Manager
	Catalog   *i18n.Catalog
	// Outbox delivers notifications to other users. Nil sends inline.
	Outbox    *sender.Dispatcher
	Broadcast broadcast.Options
	Settings  Settings
	// Clock defaults to time.Now.
	Clock func() time.Time
}

const onlineKey = "online"

// onlineCacheCapacity leaves otter room to admit the single listing entry;
// very small capacities make it reject every Set.
const onlineCacheCapacity = 64

// Bot holds the handlers.
type Bot struct {
	msg      sender.Messenger
	acc      *accounts.Service
	panel    Panel
	ledger   *ledger.Ledger
	states   state.Manager
	cat      *i18n.Catalog
	outbox   *sender.Dispatcher
	bcast    broadcast.Options
	settings Settings
	admins   middleware.Admins
	online   otter.Cache[string, provision.Online]
	now      func() time.Time
	// spawn runs long jobs such as broadcasts off the update goroutine.
	spawn func(func())
}

// New validates d and returns a Bot.
func New(d Deps) (*Bot, error) {
	switch {
	case d.Messenger == nil:
		return nil, errors.New("bot: messenger is required")
	case d.Accounts == nil || d.Ledger == nil:
		return nil, errors.New("bot: accounts and ledger are required")
	case d.Panel == nil:
		return nil, errors.New("bot: panel client is required")
	case d.Catalog == nil:
		return nil, errors.New("bot: catalog is required")
	}
	if d.States == nil {
		d.States = ledger.NewStateManager(d.Ledger, 0)
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	s := d.Settings
	if s.Location == nil {
		s.Location = time.UTC
	}
	if s.UsersPerPage <= 0 {
		s.UsersPerPage = 20
	}
	if s.KeysPerPage <= 0 {
		s.KeysPerPage = 5
	}
	if s.OnlinePerPage <= 0 {
		s.OnlinePerPage = 20
	}
	if s.OnlineCacheTTL <= 0 {
		s.OnlineCacheTTL = time.Minute
	}
	cache, err := otter.MustBuilder[string, provision.Online](onlineCacheCapacity).WithTTL(s.OnlineCacheTTL).Build()
	if err != nil {
		return nil, fmt.Errorf("bot: online cache: %w", err)
	}
	return &Bot{
		msg:      d.Messenger,
		acc:      d.Accounts,
		panel:    d.Panel,
		ledger:   d.Ledger,
		states:   d.States,
		cat:      d.Catalog,
		outbox:   d.Outbox,
		bcast:    d.Broadcast,
		settings: s,
		admins:   middleware.NewAdmins(s.Admins...),
		online:   cache,
		now:      d.Clock,
		spawn:    func(fn func()) { go fn() },
	}, nil
}

// Close releases the online listing cache.
func (b *Bot) Close() {
	b.online.Close()
}

// Router returns the router dispatching to the handlers registered in reg.
func (b *Bot) Router(reg *tg.Registry) *router.Router {
	return router.New(router.Options{
		Registry:            reg,
		States:              b.states,
		Admins:              b.admins,
		IsBanned:            b.acc.IsBanned,
		DropBannedCallbacks: b.settings.DropBannedCallbacks,
		Touch: func(ctx context.Context, ev event.Event) error {
			_, _, err := b.acc.Touch(ctx, profileOf(ev), 0)
			return err
		},
		OnBanned:     b.banned,
		OnDenied:     b.denied,
		OnIdentifier: b.identifier,
		OnError:      b.failed,
		Ack:          b.ack,
	})
}

// Wire returns the hook that builds the bot once the Telegram runtime
// exists. onReady receives the bot, for example to close it on shutdown.
func Wire(d Deps, onReady func(*Bot)) func(ctx context.Context, rt tg.Runtime) ([]tg.Route, error) {
	return func(ctx context.Context, rt tg.Runtime) ([]tg.Route, error) {
		d.Messenger = rt.Bot
		d.Outbox = rt.Dispatcher
		b, err := New(d)
		if err != nil {
			return nil, err
		}
		if err := b.Register(rt.Registry); err != nil {
			return nil, err
		}
		if onReady != nil {
			onReady(b)
		}
		logger.Info(ctx, "tg.wire", "bot.ready",
			slog.String("status", "ok"),
			slog.Int("admins", len(b.admins)),
			slog.Int("servers", len(b.settings.Servers)),
		)
		return b.Router(rt.Registry).Routes(), nil
	}
}

func profileOf(ev event.Event) accounts.Profile {
	return accounts.Profile{ID: ev.UserID, Username: ev.Username, FirstName: ev.FirstName, LastName: ev.LastName}
}

// answered marks a handler error the user has already been told about.
type answered struct{ err error }

func (a answered) Error() string { return a.err.Error() }
func (a answered) Unwrap() error { return a.err }

func (b *Bot) failed(ctx context.Context, req *event.Request, err error) {
	var done answered
	if errors.As(err, &done) {
		return
	}
	lang := b.lang(ctx, req.UserID)
	if rerr := b.reply(ctx, req, b.t(lang, "error_generic"), nil); rerr != nil {
		logger.Warn(ctx, "tg", "error_reply.fail",
			slog.String("status", "fail"),
			slog.String("err", rerr.Error()),
		)
	}
}

func (b *Bot) banned(ctx context.Context, req *event.Request) error {
	lang := b.lang(ctx, req.UserID)
	var kb *tele.ReplyMarkup
	if b.settings.OwnerURL != "" {
		kb = inline(row(urlBtn(b.t(lang, "btn_contact_admin"), b.settings.OwnerURL)))
	}
	return b.reply(ctx, req, b.t(lang, "access_denied_banned"), kb)
}

func (b *Bot) denied(ctx context.Context, req *event.Request) error {
	text := b.t(b.lang(ctx, req.UserID), "admin_access_denied")
	if req.Kind == event.KindCallback {
		req.Notify(stripMarkdown(text), true)
		return nil
	}
	return b.reply(ctx, req, text, nil)
}

func (b *Bot) ack(ctx context.Context, ev event.Event, text string, alert bool) {
	if ev.Callback == nil {
		return
	}
	if err := b.msg.Respond(ev.Callback, &tele.CallbackResponse{Text: text, ShowAlert: alert}); err != nil {
		logger.Debug(ctx, "tg", "callback.ack_fail",
			slog.String("status", "fail"),
			slog.String("err", logger.SanitizeLimit(err.Error(), 128)),
		)
	}
}

func (b *Bot) lang(ctx context.Context, userID int64) string {
	return b.acc.Lang(ctx, userID)
}

func (b *Bot) t(lang, key string, args ...any) string {
	return b.cat.T(lang, key, args...)
}
