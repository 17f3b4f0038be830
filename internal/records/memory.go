package records

import (
	"context"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu   sync.RWMutex
	recs map[Key]Record
	now  func() time.Time
}

// NewInMemory creates an empty record store.
func NewInMemory() *InMemory {
	return &InMemory{recs: make(map[Key]Record), now: time.Now}
}

func (m *InMemory) Get(ctx context.Context, key Key) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Fields = rec.CloneFields()
	return rec, nil
}

func (m *InMemory) Create(ctx context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.recs[rec.Key]; ok {
		return ErrExists
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = m.now().UTC()
	}
	rec.Fields = rec.CloneFields()
	m.recs[rec.Key] = rec
	return nil
}

func (m *InMemory) CompareAndSwap(ctx context.Context, key Key, expectedVersion int64, fields map[string]string, updatedBy string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Version != expectedVersion {
		return Record{}, ErrModified
	}
	next := rec
	next.Fields = rec.CloneFields()
	for k, v := range fields {
		next.Fields[k] = v
	}
	next.Version++
	next.UpdatedBy = updatedBy
	next.UpdatedAt = m.now().UTC()
	m.recs[key] = next
	next.Fields = next.CloneFields()
	return next, nil
}

func (m *InMemory) MarkVerified(ctx context.Context, key Key, updatedBy string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.recs[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Verified = true
	rec.Version++
	rec.UpdatedBy = updatedBy
	rec.UpdatedAt = m.now().UTC()
	m.recs[key] = rec
	rec.Fields = rec.CloneFields()
	return rec, nil
}

// Put force-writes a record bypassing the CAS predicate. It exists for
// tests that simulate an external process mutating the record directly.
func (m *InMemory) Put(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.Fields = rec.CloneFields()
	m.recs[rec.Key] = rec
}
