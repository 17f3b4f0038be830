package audit

import (
	"context"
	"sync"
	"time"
)

// InMemory is an append-only in-process store for tests and the memory
// engine. Entries are returned newest-first like the SQL stores.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewInMemory creates an empty audit store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (m *InMemory) Append(ctx context.Context, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *InMemory) ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		if e.EntityType == entityType && (entityID == "" || e.EntityID == entityID) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *InMemory) ListByTime(ctx context.Context, from, to time.Time, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	var out []Entry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.entries[i]
		// Half-open window [from, to), matching the SQL stores.
		if !e.OccurredAt.Before(from) && e.OccurredAt.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len reports the number of appended entries. Tests use it to assert the
// one-entry-per-transition invariant.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
