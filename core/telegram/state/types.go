package state

import (
	"context"
	"strconv"
	"time"
)

// State identifies a pending step of a conversation.
type State string

const (
	// StateIdle indicates there is no pending input expected from the user.
	StateIdle State = "none"
)

// Data carries the small payload a pending state needs to finish its step.
type Data map[string]string

// String returns the value at key or "".
func (d Data) String(key string) string {
	if d == nil {
		return ""
	}
	return d[key]
}

// Int parses the value at key as an int.
func (d Data) Int(key string) (int, bool) {
	v, err := strconv.Atoi(d.String(key))
	if err != nil {
		return 0, false
	}
	return v, true
}

// Int64 parses the value at key as an int64.
func (d Data) Int64(key string) (int64, bool) {
	v, err := strconv.ParseInt(d.String(key), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Session is the conversation state of one user.
type Session struct {
	State State
	Data  Data
	Since time.Time
}

// Pending reports whether the session expects further input.
func (s Session) Pending() bool {
	return s.State != "" && s.State != StateIdle
}

// Idle returns an empty session.
func Idle() Session {
	return Session{State: StateIdle, Data: Data{}}
}

// Manager persists conversation sessions.
type Manager interface {
	Get(ctx context.Context, userID int64) (Session, error)
	Set(ctx context.Context, userID int64, st State, data Data) error
	Clear(ctx context.Context, userID int64) error
}
