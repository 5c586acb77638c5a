package logging

import (
	"sync"
	"time"
)

// Suppressor drops a message that was already allowed within the window.
// Entries are keyed by the full message text, so callers should keep
// per-request details (addresses, ids) out of the key.
type Suppressor struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]time.Time
}

// NewSuppressor creates a suppressor. A window <= 0 allows everything.
func NewSuppressor(window time.Duration) *Suppressor {
	return &Suppressor{
		window: window,
		last:   make(map[string]time.Time),
	}
}

// Allow reports whether msg should be emitted at now and, if so, records it.
func (s *Suppressor) Allow(msg string, now time.Time) bool {
	if s == nil || s.window <= 0 {
		return true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-s.window)
	for key, at := range s.last {
		if !at.After(cutoff) {
			delete(s.last, key)
		}
	}

	if _, seen := s.last[msg]; seen {
		return false
	}
	s.last[msg] = now
	return true
}
