package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/v2raybot/core/logger"
)

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisStore keeps each ledger document as a single Redis string.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to Redis and verifies the connection with PING.
func OpenRedis(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	start := time.Now()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		logger.Error(ctx, "ledger", "redis.connect",
			slog.String("status", "fail"),
			slog.String("host", opts.Addr),
			slog.String("err", err.Error()),
		)
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info(ctx, "ledger", "redis.connect",
		slog.String("status", "ok"),
		slog.String("host", opts.Addr),
		slog.Int("db", opts.DB),
		slog.Duration("duration", logger.Took(start)),
	)
	return NewRedisStore(client, opts.Prefix), nil
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

// Close releases the client connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
