package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/v2raybot/core/logger"
)

// Upgrader is implemented by document types that backfill defaults and bump
// their schema version after decoding.
type Upgrader interface {
	Upgrade()
}

// Ledger funnels every document mutation through Update. Writers on the same
// key are serialized by an in-process mutex; writers in other processes are
// not coordinated and the last whole-document write wins.
type Ledger struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Ledger on top of store.
func New(store Store) *Ledger {
	return &Ledger{
		store: store,
		locks: make(map[string]*sync.Mutex),
	}
}

// The key set is a handful of fixed namespaces plus admin-written keys, so
// mutexes are never evicted.
func (l *Ledger) lock(key string) func() {
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

// Read fetches and decodes the document at key. An absent key yields the
// upgraded zero document.
func Read[T any](ctx context.Context, l *Ledger, key string) (T, error) {
	doc, err := load[T](ctx, l, key)
	if err != nil {
		logger.Warn(ctx, "ledger", "read.fail",
			slog.String("status", "fail"),
			slog.String("key", key),
			slog.String("err", err.Error()),
		)
	}
	return doc, err
}

// Update performs one read-modify-write cycle on key. The mutator receives
// the freshly read document and must not perform I/O. When it returns an
// error nothing is written; ErrSkip is swallowed and reported as success.
// Store failures are wrapped with ErrUnavailable and leave the stored
// document untouched. Update never retries.
func Update[T any](ctx context.Context, l *Ledger, key string, mutate func(doc *T) error) error {
	unlock := l.lock(key)
	defer unlock()

	start := time.Now()
	doc, err := load[T](ctx, l, key)
	if err != nil {
		logUpdateFail(ctx, key, "read", err, start)
		return err
	}

	if err := mutate(&doc); err != nil {
		if errors.Is(err, ErrSkip) {
			return nil
		}
		return err
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("ledger: encode %s: %w", key, err)
	}
	if err := l.store.Put(ctx, key, raw); err != nil {
		err = fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
		logUpdateFail(ctx, key, "write", err, start)
		return err
	}

	if logger.ShouldSampleDebug() {
		logger.Debug(ctx, "ledger", "update.ok",
			slog.String("status", "ok"),
			slog.String("key", key),
			slog.Int("bytes", len(raw)),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return nil
}

// GetRaw returns the stored bytes at key without decoding.
func (l *Ledger) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	return raw, ok, nil
}

// PutRaw overwrites key with value, serialized with other writers of key.
func (l *Ledger) PutRaw(ctx context.Context, key string, value []byte) error {
	unlock := l.lock(key)
	defer unlock()
	if err := l.store.Put(ctx, key, value); err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func load[T any](ctx context.Context, l *Ledger, key string) (T, error) {
	var doc T
	raw, ok, err := l.store.Get(ctx, key)
	if err != nil {
		return doc, fmt.Errorf("%w: get %s: %v", ErrUnavailable, key, err)
	}
	if ok && len(raw) > 0 {
		if err := json.Unmarshal(raw, &doc); err != nil {
			return doc, fmt.Errorf("%w: %s: %v", ErrCorrupt, key, err)
		}
	}
	if u, isUpgrader := any(&doc).(Upgrader); isUpgrader {
		u.Upgrade()
	}
	return doc, nil
}

func logUpdateFail(ctx context.Context, key, stage string, err error, start time.Time) {
	logger.Error(ctx, "ledger", "update.fail",
		slog.String("status", "fail"),
		slog.String("key", key),
		slog.String("op", stage),
		slog.String("err", err.Error()),
		slog.Duration("duration", logger.Took(start)),
	)
}
