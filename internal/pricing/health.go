package pricing

import (
	"sync"
	"time"
)

// Health tracks the reliability of one upstream provider. Entries are never
// deleted; counters reset only on process restart.
type Health struct {
	SuccessCount  uint64    `json:"success_count"`
	FailureCount  uint64    `json:"failure_count"`
	LastError     string    `json:"last_error,omitempty"`
	LastSuccessAt time.Time `json:"last_success_at"`
	Degraded      bool      `json:"degraded"`
}

// healthTable is the single writer for all provider health state. Consumers
// only ever see copies.
type healthTable struct {
	mu               sync.Mutex
	entries          map[string]*Health
	consecutiveFails map[string]uint32
	degradeAfter     uint32
}

func newHealthTable(degradeAfter uint32) *healthTable {
	if degradeAfter == 0 {
		degradeAfter = 3
	}
	return &healthTable{
		entries:          make(map[string]*Health),
		consecutiveFails: make(map[string]uint32),
		degradeAfter:     degradeAfter,
	}
}

func (t *healthTable) recordSuccess(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(provider)
	h.SuccessCount++
	h.LastSuccessAt = time.Now()
	h.Degraded = false
	t.consecutiveFails[provider] = 0
}

func (t *healthTable) recordFailure(provider string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := t.entry(provider)
	h.FailureCount++
	if err != nil {
		h.LastError = err.Error()
	}
	t.consecutiveFails[provider]++
	if t.consecutiveFails[provider] >= t.degradeAfter {
		h.Degraded = true
	}
}

// failureCount returns the lifetime failure count for tie-breaking between
// disagreeing providers.
func (t *healthTable) failureCount(provider string) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, ok := t.entries[provider]; ok {
		return h.FailureCount
	}
	return 0
}

// snapshot returns a copy of all health entries.
func (t *healthTable) snapshot() map[string]Health {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[string]Health, len(t.entries))
	for name, h := range t.entries {
		out[name] = *h
	}
	return out
}

// entry returns the health record for provider, creating it on first use.
// Caller must hold t.mu.
func (t *healthTable) entry(provider string) *Health {
	h, ok := t.entries[provider]
	if !ok {
		h = &Health{}
		t.entries[provider] = h
	}
	return h
}
