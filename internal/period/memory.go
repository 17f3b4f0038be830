package period

import (
	"context"
	"strconv"
	"sync"

	"charterops.org/internal/access"
)

// InMemory implements Store with a mutex-guarded map.
type InMemory struct {
	mu    sync.RWMutex
	locks map[string]Lock
}

// NewInMemory creates an empty period lock store.
func NewInMemory() *InMemory {
	return &InMemory{locks: make(map[string]Lock)}
}

func memKey(fiscalYear int, entityType string) string {
	return strconv.Itoa(fiscalYear) + "/" + entityType
}

func (m *InMemory) Get(ctx context.Context, fiscalYear int, entityType string) (Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lock, ok := m.locks[memKey(fiscalYear, entityType)]
	if !ok {
		return Status{Open: true}, nil
	}
	cp := lock
	cp.AllowList = append([]access.Action(nil), lock.AllowList...)
	return Status{Lock: cp}, nil
}

func (m *InMemory) Upsert(ctx context.Context, lock Lock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock.AllowList = append([]access.Action(nil), lock.AllowList...)
	m.locks[memKey(lock.FiscalYear, lock.EntityType)] = lock
	return nil
}
