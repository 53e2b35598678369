package client

import (
	"strings"
	"sync"
)

// HintCache remembers the most recently seen application id. Stages consult it when the
// identifier in their query string has not arrived yet.
type HintCache struct {
	mu   sync.RWMutex
	last string
}

func NewHintCache() *HintCache {
	return &HintCache{}
}

// Remember records id. Blank ids are ignored.
func (h *HintCache) Remember(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	h.mu.Lock()
	h.last = id
	h.mu.Unlock()
}

// Last returns the cached id or "".
func (h *HintCache) Last() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Clear forgets the cached id, for example after a restart.
func (h *HintCache) Clear() {
	h.mu.Lock()
	h.last = ""
	h.mu.Unlock()
}
