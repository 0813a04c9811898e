package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/m3rciful/v2raybot/app/accounts"
	"github.com/m3rciful/v2raybot/app/bot"
	"github.com/m3rciful/v2raybot/app/config"
	"github.com/m3rciful/v2raybot/app/i18n"
	"github.com/m3rciful/v2raybot/app/ledger"
	"github.com/m3rciful/v2raybot/app/provision"
	"github.com/m3rciful/v2raybot/core/bootstrap"
	coredatabase "github.com/m3rciful/v2raybot/core/database"
	tg "github.com/m3rciful/v2raybot/core/telegram"
)

type application struct {
	cfg   *config.Config
	infra *bootstrap.Result
	store io.Closer
	deps  bot.Deps

	mu  sync.Mutex
	bot *bot.Bot
}

// bootstrapApp opens the store, upgrades stored documents and assembles the
// bot dependencies.
func bootstrapApp(ctx context.Context, cfg *config.Config) (*application, error) {
	var db *coredatabase.Config
	if cfg.UsesDatabase() {
		db = &cfg.Database
	}
	infra, err := bootstrap.Run(ctx, bootstrap.Options{Config: cfg.CoreConfig(), Database: db})
	if err != nil {
		return nil, err
	}

	opts := cfg.LedgerOptions()
	opts.DB = infra.DB
	store, closer, err := ledger.Open(ctx, opts)
	if err != nil {
		_ = infra.Close()
		return nil, err
	}
	app := &application{cfg: cfg, infra: infra, store: closer}

	l := ledger.New(store)
	if err := bootstrap.RunSeeders(ctx, bootstrap.SeederFunc{
		Label: "ledger.upgrade",
		Fn:    func(ctx context.Context) error { return ledger.UpgradeAll(ctx, l) },
	}); err != nil {
		_ = app.Close()
		return nil, err
	}

	client, err := provision.New(provision.Options{
		BaseURL: cfg.Provision.BaseURL,
		Token:   cfg.Provision.Token,
		Timeout: cfg.Provision.Timeout,
	})
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("provision client: %w", err)
	}
	catalog, err := i18n.Load()
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	app.deps = bot.Deps{
		Accounts:  accounts.New(l, client, cfg.AccountSettings()),
		Panel:     client,
		Ledger:    l,
		States:    ledger.NewStateManager(l, cfg.Bot.StateTTL),
		Catalog:   catalog,
		Broadcast: cfg.BroadcastOptions(),
		Settings:  bot.SettingsFrom(cfg),
	}
	return app, nil
}

// TelegramRunOptions implements cmd.TelegramApp.
func (a *application) TelegramRunOptions() (tg.RunOptions, error) {
	core := a.cfg.CoreConfig()
	return tg.RunOptions{
		Config:      core,
		Middlewares: tg.DefaultMiddlewares(core, nil),
		Wire: bot.Wire(a.deps, func(b *bot.Bot) {
			a.mu.Lock()
			a.bot = b
			a.mu.Unlock()
		}),
		OnStop: func(context.Context, tg.Runtime) error {
			a.mu.Lock()
			defer a.mu.Unlock()
			if a.bot != nil {
				a.bot.Close()
				a.bot = nil
			}
			return nil
		},
	}, nil
}

// Close releases the store and the database connection.
func (a *application) Close() error {
	return errors.Join(a.store.Close(), a.infra.Close())
}
