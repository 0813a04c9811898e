package ledger

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

const (
	selectDocumentSQL = `SELECT value FROM kv_documents WHERE key = $1`
	upsertDocumentSQL = `INSERT INTO kv_documents (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
)

// PostgresStore keeps documents in the kv_documents table, one row per key.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore uses an already connected and migrated database.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value string
	err := s.db.GetContext(ctx, &value, selectDocumentSQL, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(value), true, nil
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, upsertDocumentSQL, key, string(value))
	return err
}

// Close closes the underlying pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
