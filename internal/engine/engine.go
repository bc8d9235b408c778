// Package engine keeps a workspace in sync with a room: it captures local
// edits and file events, broadcasts them through the bridge, and applies
// what peers send back without echoing it.
package engine

import (
	"errors"
	"time"
)

var (
	// ErrNoWorkspace is returned by Join when no folder is open.
	ErrNoWorkspace = errors.New("no workspace folder open")
	// ErrApply wraps a failure to apply queued edits to a file.
	ErrApply = errors.New("apply failed")
	// ErrRead wraps a failure to read a file that was about to be sent.
	ErrRead = errors.New("read failed")
)

// Config controls how rooms are joined and how remote edits are batched.
type Config struct {
	// Hostname is the relay address rooms are joined on.
	Hostname string `mapstructure:"hostname"`
	// DefaultRoom prefills the room prompt. A random room is suggested when empty.
	DefaultRoom string `mapstructure:"default-room"`
	// Nickname prefills the nickname prompt when no previous session is known.
	Nickname string `mapstructure:"nickname"`
	// FlushDelay is how long remote edits are collected before they are applied.
	FlushDelay time.Duration `mapstructure:"flush-delay"`
}

// DefaultConfig joins a relay on localhost and flushes remote edits after 10ms.
func DefaultConfig() Config {
	return Config{
		Hostname:   "ws://localhost:8081",
		FlushDelay: 10 * time.Millisecond,
	}
}

// Notifier shows messages to the user.
type Notifier interface {
	Info(msg string)
	Error(msg string)
}
