package storage

import (
	"context"
	"sync"
	"time"

	"github.com/AxsolTools/bonk1st-sub009/pkg/storage/postgres"
)

// MemorySink is an in-memory stand-in for the Postgres sink, used by tests
// that exercise the collector's fire-and-forget write path.
type MemorySink struct {
	mu     sync.Mutex
	tokens map[string]postgres.TokenRecord
	curves map[string]postgres.CurveStateRecord
}

func NewMemorySink() *MemorySink {
	return &MemorySink{
		tokens: make(map[string]postgres.TokenRecord),
		curves: make(map[string]postgres.CurveStateRecord),
	}
}

func (m *MemorySink) UpsertToken(_ context.Context, record *postgres.TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tokens[record.Mint]; ok {
		record.FirstSeenAt = existing.FirstSeenAt
	}
	m.tokens[record.Mint] = *record
	return nil
}

func (m *MemorySink) UpsertCurveState(_ context.Context, record *postgres.CurveStateRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.curves[record.Mint] = *record
	return nil
}

func (m *MemorySink) SetMigrationStage(_ context.Context, mint, stage string, observedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.curves[mint] = postgres.CurveStateRecord{
		Mint:       mint,
		Progress:   100,
		Stage:      stage,
		ObservedAt: observedAt,
	}
	return nil
}

// Token returns a copy of the stored token record for mint.
func (m *MemorySink) Token(mint string) (postgres.TokenRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[mint]
	return rec, ok
}

// CurveState returns a copy of the stored curve state for mint.
func (m *MemorySink) CurveState(mint string) (postgres.CurveStateRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.curves[mint]
	return rec, ok
}
