// Package commands declares the handler definitions kept in the registry.
package commands

import (
	"github.com/m3rciful/v2raybot/core/telegram/event"
	"github.com/m3rciful/v2raybot/core/telegram/state"
)

// Command represents a bot command with its handler, description, and metadata.
type Command struct {
	Handler     event.HandlerFunc
	Description string
	AdminOnly   bool
	Hidden      bool
	Aliases     []string
	// KeepsState leaves a pending conversation state in place. Every other
	// command clears it before running.
	KeepsState bool
}

// Callback is a handler for button presses whose data matches a pattern.
type Callback struct {
	Name    string
	Handler event.HandlerFunc
	// KeepsState marks pagination and in-flight selection buttons.
	KeepsState bool
	AdminOnly  bool
}

// Expect is the kind of input a pending state waits for.
type Expect uint8

const (
	// ExpectText states consume the next non-command message.
	ExpectText Expect = iota + 1
	// ExpectChoice states wait for a button press. Text clears them and is
	// handed to the consumer so it can tell the user the choice was dropped.
	ExpectChoice
)

// Consumer handles input for one pending state.
type Consumer struct {
	State   state.State
	Expect  Expect
	Handler event.HandlerFunc
}
