package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/m3rciful/v2raybot/core/logger"
)

// RunMigrations applies all up migrations from cfg.MigrationsDir.
func RunMigrations(ctx context.Context, cfg Config) error {
	if err := WaitForPostgres(ctx, cfg.DSN(), 30*time.Second); err != nil {
		logger.Error(ctx, "db.migrate", "db.not_ready",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("database not ready: %w", err)
	}

	dir, err := migrationsDir(cfg.MigrationsDir)
	if err != nil {
		logger.Error(ctx, "db.migrate", "resolve",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return err
	}

	files := listMigrationFiles(dir)
	attrs := []slog.Attr{
		slog.String("path", dir),
		slog.Int("files_total", len(files)),
	}
	if preview, truncated := logger.SummarizeStrings(files, 6); preview != "" {
		attrs = append(attrs, slog.String("files_preview", preview), slog.Bool("files_truncated", truncated))
	}
	logger.Debug(ctx, "db.migrate", "resolve", attrs...)

	m, err := migrate.New("file://"+dir, cfg.URL())
	if err != nil {
		logger.Error(ctx, "db.migrate", "init",
			slog.String("status", "fail"),
			slog.String("err", err.Error()),
		)
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	fromVer, _, _ := m.Version()

	start := time.Now()
	upErr := m.Up()
	took := time.Since(start)

	switch {
	case upErr == nil:
	case errors.Is(upErr, migrate.ErrNoChange):
		logger.Info(ctx, "db.migrate", "summary",
			slog.String("status", "ok"),
			slog.Uint64("from_ver", uint64(fromVer)),
			slog.Uint64("to_ver", uint64(fromVer)),
			slog.Int("files", 0),
			slog.Duration("duration", logger.RoundMS(took)),
		)
		return nil
	default:
		logger.Error(ctx, "db.migrate", "apply",
			slog.String("status", "fail"),
			slog.String("err", upErr.Error()),
			slog.Duration("duration", logger.RoundMS(took)),
		)
		return fmt.Errorf("migration execution failed: %w", upErr)
	}

	toVer, _, _ := m.Version()
	applied := selectApplied(files, uint64(fromVer), uint64(toVer))
	if preview, truncated := logger.SummarizeStrings(applied, 6); preview != "" {
		logger.Debug(ctx, "db.migrate", "apply",
			slog.Int("files_total", len(applied)),
			slog.String("files_preview", preview),
			slog.Bool("files_truncated", truncated),
		)
	}

	logger.Info(ctx, "db.migrate", "summary",
		slog.String("status", "ok"),
		slog.Uint64("from_ver", uint64(fromVer)),
		slog.Uint64("to_ver", uint64(toVer)),
		slog.Int("files", len(applied)),
		slog.Duration("duration", logger.RoundMS(took)),
	)
	return nil
}

func migrationsDir(dir string) (string, error) {
	if dir == "" {
		dir = "migrations"
	}
	if filepath.IsAbs(dir) {
		return dir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(cwd, dir), nil
}

func listMigrationFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names
}

func parseVersion(name string) uint64 {
	v, _ := strconv.ParseUint(strings.SplitN(name, "_", 2)[0], 10, 64)
	return v
}

// selectApplied returns the files whose version lies in (from, to].
func selectApplied(files []string, from, to uint64) []string {
	var out []string
	for _, f := range files {
		if v := parseVersion(f); v > from && v <= to {
			out = append(out, f)
		}
	}
	return out
}
