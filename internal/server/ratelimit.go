// Package server implements the per-identity fixed-window message limiter
// that throttles each authenticated sender.
package server

import (
	"sync"
	"time"
)

type windowEntry struct {
	windowStart time.Time
	count       int
}

// messageLimiter tracks message counts per identity in non-overlapping,
// reset-on-expiry windows. Entries are created lazily on first use and must
// be removed with forget when the owning session closes, or the map grows
// without bound.
type messageLimiter struct {
	mu      sync.Mutex
	entries map[string]*windowEntry
}

func newMessageLimiter() *messageLimiter {
	return &messageLimiter{
		entries: make(map[string]*windowEntry),
	}
}

// tryConsume records one message attempt for identity at time now and
// reports whether it is allowed. Denied attempts still count: the window
// resets a full window after the first attempt in it, accepted or not.
func (ml *messageLimiter) tryConsume(identity string, now time.Time) bool {
	cfg := currentConfig()

	ml.mu.Lock()
	defer ml.mu.Unlock()

	entry, ok := ml.entries[identity]
	if !ok {
		entry = &windowEntry{windowStart: now}
		ml.entries[identity] = entry
	}

	if !now.Before(entry.windowStart.Add(cfg.RateLimit.Window)) {
		entry.windowStart = now
		entry.count = 0
	}

	entry.count++
	return entry.count <= cfg.RateLimit.Messages
}

// forget drops the entry for identity. Called when the owning session
// closes; a fresh session under the same identity starts a clean window.
func (ml *messageLimiter) forget(identity string) {
	ml.mu.Lock()
	delete(ml.entries, identity)
	ml.mu.Unlock()
}

// tracks reports whether an entry currently exists for identity.
func (ml *messageLimiter) tracks(identity string) bool {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	_, ok := ml.entries[identity]
	return ok
}
