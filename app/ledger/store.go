// Package ledger persists JSON documents in a key-value store and mutates
// them through a serialized read-modify-write cycle.
package ledger

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrUnavailable wraps any failure of the underlying store during read or write.
	ErrUnavailable = errors.New("ledger: store unavailable")
	// ErrCorrupt is returned when a stored document cannot be decoded.
	ErrCorrupt = errors.New("ledger: corrupt document")
	// ErrSkip may be returned by a mutator to finish the update without writing.
	ErrSkip = errors.New("ledger: skip write")
)

// Store is a flat key-value persistence layer. It offers no listing,
// no range queries and no transactions beyond single-key get/put.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// MemoryStore keeps documents in process memory. Used for development and tests.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

// Get returns a copy of the stored value.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.docs[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Put overwrites the value stored at key.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[key] = append([]byte(nil), value...)
	return nil
}
