package memory

import (
	"context"
	"sync"
	"time"
)

type hintEntry struct {
	id      string
	expires time.Time
}

// HintStore remembers the last draft id per session in process memory.
type HintStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]hintEntry
}

// NewHintStore builds a store whose entries expire after ttl. ttl <= 0 disables expiry.
func NewHintStore(ttl time.Duration) *HintStore {
	return &HintStore{ttl: ttl, entries: make(map[string]hintEntry)}
}

func (s *HintStore) Remember(_ context.Context, sessionKey, applicationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := hintEntry{id: applicationID}
	if s.ttl > 0 {
		entry.expires = time.Now().Add(s.ttl)
	}
	s.entries[sessionKey] = entry
	return nil
}

func (s *HintStore) Recall(_ context.Context, sessionKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[sessionKey]
	if !ok {
		return "", nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		delete(s.entries, sessionKey)
		return "", nil
	}
	return entry.id, nil
}
