package ledger

import (
	"context"
	"time"

	"github.com/m3rciful/v2raybot/core/telegram/state"
)

// StateManager stores conversation sessions in the KeyStates document.
type StateManager struct {
	ledger *Ledger
	ttl    time.Duration
	now    func() time.Time
}

var _ state.Manager = (*StateManager)(nil)

// NewStateManager returns a manager whose sessions expire after ttl.
// A zero ttl keeps sessions until they are cleared.
func NewStateManager(l *Ledger, ttl time.Duration) *StateManager {
	return &StateManager{ledger: l, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source.
func (m *StateManager) WithClock(now func() time.Time) *StateManager {
	m.now = now
	return m
}

// Get returns the user's session; expired sessions read as idle.
func (m *StateManager) Get(ctx context.Context, userID int64) (state.Session, error) {
	states, err := Read[States](ctx, m.ledger, KeyStates)
	if err != nil {
		return state.Idle(), err
	}
	rec, ok := states[UserKey(userID)]
	if !ok {
		return state.Idle(), nil
	}
	if m.ttl > 0 && m.now().Sub(rec.Timestamp) > m.ttl {
		return state.Idle(), nil
	}
	data := make(state.Data, len(rec.Data))
	for k, v := range rec.Data {
		data[k] = v
	}
	return state.Session{State: state.State(rec.State), Data: data, Since: rec.Timestamp}, nil
}

// Set writes a new pending state, replacing any previous one.
func (m *StateManager) Set(ctx context.Context, userID int64, st state.State, data state.Data) error {
	if st == "" || st == state.StateIdle {
		return m.Clear(ctx, userID)
	}
	now := m.now()
	return Update(ctx, m.ledger, KeyStates, func(states *States) error {
		rec := &StateRecord{Schema: StateSchema, State: string(st), Data: map[string]string{}, Timestamp: now}
		for k, v := range data {
			rec.Data[k] = v
		}
		(*states)[UserKey(userID)] = rec
		return nil
	})
}

// Clear removes the user's state. Nothing is written when none is stored.
func (m *StateManager) Clear(ctx context.Context, userID int64) error {
	return Update(ctx, m.ledger, KeyStates, func(states *States) error {
		key := UserKey(userID)
		if _, ok := (*states)[key]; !ok {
			return ErrSkip
		}
		delete(*states, key)
		return nil
	})
}
