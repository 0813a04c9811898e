package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/v2raybot/core/logger"
)

// Store drivers accepted by Open.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// OpenOptions selects and configures the store backend.
type OpenOptions struct {
	Driver string
	Redis  RedisOptions
	// DB must be connected and migrated for DriverPostgres.
	DB *sqlx.DB
}

// Open returns the store for opts.Driver. The closer releases connections
// owned by the store; the caller keeps ownership of opts.DB.
func Open(ctx context.Context, opts OpenOptions) (Store, io.Closer, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	var (
		store  Store
		closer io.Closer = nopCloser{}
	)
	switch driver {
	case "", DriverMemory:
		driver = DriverMemory
		store = NewMemoryStore()
	case DriverRedis:
		rs, err := OpenRedis(ctx, opts.Redis)
		if err != nil {
			return nil, nil, err
		}
		store, closer = rs, rs
	case DriverPostgres:
		if opts.DB == nil {
			return nil, nil, fmt.Errorf("ledger: postgres driver needs a database connection")
		}
		store = NewPostgresStore(opts.DB)
	default:
		return nil, nil, fmt.Errorf("ledger: unknown store driver %q", opts.Driver)
	}
	logger.Info(ctx, "ledger", "store.open",
		slog.String("status", "ok"),
		slog.String("driver", driver),
	)
	return store, closer, nil
}

// UpgradeAll rewrites every namespace document in the current schema.
// Documents that do not exist yet are left absent.
func UpgradeAll(ctx context.Context, l *Ledger) error {
	steps := []struct {
		key string
		run func() error
	}{
		{KeyUsers, func() error { return rewrite[Users](ctx, l, KeyUsers) }},
		{KeyStates, func() error { return rewrite[States](ctx, l, KeyStates) }},
		{KeyRedeemedKeys, func() error { return rewrite[RedeemedKeys](ctx, l, KeyRedeemedKeys) }},
	}
	for _, s := range steps {
		if err := s.run(); err != nil {
			return fmt.Errorf("ledger: upgrade %s: %w", s.key, err)
		}
	}
	return nil
}

func rewrite[T any](ctx context.Context, l *Ledger, key string) error {
	if _, ok, err := l.GetRaw(ctx, key); err != nil || !ok {
		return err
	}
	return Update(ctx, l, key, func(*T) error { return nil })
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
