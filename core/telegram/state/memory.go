package state

import (
	"context"
	"sync"
	"time"
)

type memoryManager struct {
	mu       sync.RWMutex
	sessions map[int64]Session
	ttl      time.Duration
	now      func() time.Time
}

// NewMemoryManager constructs an in-memory Manager for tests and development.
// Sessions older than ttl read as idle; a zero ttl never expires them.
func NewMemoryManager(ttl time.Duration) Manager {
	return newMemoryManager(ttl, time.Now)
}

func newMemoryManager(ttl time.Duration, now func() time.Time) *memoryManager {
	return &memoryManager{
		sessions: make(map[int64]Session),
		ttl:      ttl,
		now:      now,
	}
}

// Get returns the session for a user if it exists, otherwise an idle session.
func (m *memoryManager) Get(_ context.Context, userID int64) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[userID]
	if !ok || (m.ttl > 0 && m.now().Sub(s.Since) > m.ttl) {
		return Idle(), nil
	}
	return s, nil
}

// Set replaces the user's session. Setting StateIdle clears it.
func (m *memoryManager) Set(_ context.Context, userID int64, st State, data Data) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st == "" || st == StateIdle {
		delete(m.sessions, userID)
		return nil
	}
	cp := make(Data, len(data))
	for k, v := range data {
		cp[k] = v
	}
	m.sessions[userID] = Session{State: st, Data: cp, Since: m.now()}
	return nil
}

// Clear removes the session for a user.
func (m *memoryManager) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}
