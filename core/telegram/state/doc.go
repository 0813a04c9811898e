// Package state describes per-user conversation sessions and how they are stored.
package state
