package reclock

import (
	"context"
	"sync"
	"time"

	"charterops.org/internal/records"
)

// InMemory implements Store with a single mutex, which makes the acquire
// predicate trivially atomic in-process.
type InMemory struct {
	mu    sync.Mutex
	locks map[records.Key]Lock
}

// NewInMemory creates an empty lock store.
func NewInMemory() *InMemory {
	return &InMemory{locks: make(map[records.Key]Lock)}
}

func (m *InMemory) Acquire(ctx context.Context, key records.Key, holder string, now, expires time.Time) (Lock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[key]
	if ok && existing.Live(now) && existing.Holder != holder {
		return existing, false, nil
	}

	lock := Lock{Key: key, Holder: holder, AcquiredAt: now, ExpiresAt: expires}
	if ok && existing.Live(now) && existing.Holder == holder {
		// Renewal keeps the original acquisition time.
		lock.AcquiredAt = existing.AcquiredAt
	}
	m.locks[key] = lock
	return lock, true, nil
}

func (m *InMemory) Release(ctx context.Context, key records.Key, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.locks[key]
	if !ok || existing.Holder != holder {
		return false, nil
	}
	delete(m.locks, key)
	return true, nil
}

func (m *InMemory) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for key, lock := range m.locks {
		if !lock.Live(now) {
			delete(m.locks, key)
			n++
		}
	}
	return n, nil
}
