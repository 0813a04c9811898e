package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/v2raybot/core/logger"
)

// Seeder prepares stored data before the bot starts serving updates.
type Seeder interface {
	Name() string
	Seed(ctx context.Context) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc struct {
	Label string
	Fn    func(ctx context.Context) error
}

// Name implements Seeder.
func (f SeederFunc) Name() string { return f.Label }

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context) error {
	return f.Fn(ctx)
}

// RunSeeders runs seeders in order and stops at the first failure.
func RunSeeders(ctx context.Context, seeders ...Seeder) error {
	for _, s := range seeders {
		if s == nil {
			continue
		}
		start := time.Now()
		if err := s.Seed(ctx); err != nil {
			logger.Error(ctx, "app", "seed.fail",
				slog.String("status", "fail"),
				slog.String("seeder", s.Name()),
				slog.String("err", err.Error()),
			)
			return fmt.Errorf("bootstrap: seeder %s: %w", s.Name(), err)
		}
		logger.Debug(ctx, "app", "seed.ok",
			slog.String("status", "ok"),
			slog.String("seeder", s.Name()),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return nil
}
