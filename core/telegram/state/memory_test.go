package state

import (
	"context"
	"testing"
	"time"
)

func TestMemoryManagerExpiresSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m := newMemoryManager(time.Minute, func() time.Time { return now })

	if err := m.Set(ctx, 7, "awaiting_input", Data{"gb": "5"}); err != nil {
		t.Fatalf("set: %v", err)
	}
	s, _ := m.Get(ctx, 7)
	if !s.Pending() || s.Data.String("gb") != "5" {
		t.Fatalf("unexpected session %+v", s)
	}

	now = now.Add(2 * time.Minute)
	if s, _ := m.Get(ctx, 7); s.Pending() {
		t.Fatalf("session should have expired, got %+v", s)
	}
}

func TestMemoryManagerSetIdleClears(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryManager(0)
	_ = m.Set(ctx, 1, "awaiting_input", nil)
	_ = m.Set(ctx, 1, StateIdle, nil)
	if s, _ := m.Get(ctx, 1); s.Pending() {
		t.Fatalf("idle set should clear, got %+v", s)
	}
}
