package hooks

import (
	"sync"
	"time"
)

// PendingGrantStash bridges sign-up initiation to the post-creation hook: a
// keyed store with an explicit TTL and consume-once semantics, replacing the
// unbounded process-global map this pattern tends to grow into. Entries are
// removed on consume and on expiry, so abandoned sign-ups cannot leak across
// requests.
type PendingGrantStash struct {
	mu      sync.Mutex
	entries map[string]stashEntry
	ttl     time.Duration
	now     func() time.Time
}

type stashEntry struct {
	value     map[string]any
	expiresAt time.Time
}

// StashOption customizes stash construction.
type StashOption func(*PendingGrantStash)

// WithStashClock injects a custom clock (useful for tests).
func WithStashClock(clock func() time.Time) StashOption {
	return func(s *PendingGrantStash) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewPendingGrantStash builds a stash whose entries expire after ttl.
func NewPendingGrantStash(ttl time.Duration, opts ...StashOption) *PendingGrantStash {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	stash := &PendingGrantStash{
		entries: make(map[string]stashEntry),
		ttl:     ttl,
		now:     time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(stash)
		}
	}

	return stash
}

// Put stores a pending grant under key, replacing any previous entry and
// restarting its TTL.
func (s *PendingGrantStash) Put(key string, value map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = stashEntry{
		value:     value,
		expiresAt: s.now().Add(s.ttl),
	}
}

// Consume removes and returns the entry for key. Expired entries are a miss.
func (s *PendingGrantStash) Consume(key string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false
	}

	delete(s.entries, key)

	if s.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Sweep drops every expired entry and reports how many were removed.
func (s *PendingGrantStash) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live entries, expired or not.
func (s *PendingGrantStash) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
