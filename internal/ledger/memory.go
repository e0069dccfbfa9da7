package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"landingzone/internal/domain"
)

// MemoryStore is an in-memory Store. It is thread-safe and is the
// default backend when no persistence is configured; records are lost
// when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[domain.StepKey]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory ledger.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[domain.StepKey]Record)}
}

// Get returns the record for key.
func (m *MemoryStore) Get(ctx context.Context, key domain.StepKey) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[key]
	if !ok {
		return Record{}, false, nil
	}
	rec.Output = copyOutput(rec.Output)
	return rec, true, nil
}

// Put inserts or replaces the record for rec.Key.
func (m *MemoryStore) Put(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}
	rec.Output = copyOutput(rec.Output)
	m.records[rec.Key] = rec
	return nil
}

// Delete removes the record for key.
func (m *MemoryStore) Delete(ctx context.Context, key domain.StepKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

// List returns all records ordered by key.
func (m *MemoryStore) List(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for _, rec := range m.records {
		rec.Output = copyOutput(rec.Output)
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error { return nil }
