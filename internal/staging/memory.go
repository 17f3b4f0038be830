package staging

import (
	"context"
	"sync"

	"charterops.org/internal/records"
)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu    sync.RWMutex
	edits map[string]StagedEdit
}

// NewInMemory creates an empty staged edit store.
func NewInMemory() *InMemory {
	return &InMemory{edits: make(map[string]StagedEdit)}
}

// Create enforces at most one pending edit per (record, principal), the
// same constraint the SQL stores carry as a partial unique index.
func (m *InMemory) Create(ctx context.Context, edit *StagedEdit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if edit.Status == StatusPending {
		for _, existing := range m.edits {
			if existing.Key == edit.Key && existing.PrincipalID == edit.PrincipalID && existing.Status == StatusPending {
				return ErrAlreadyStaged
			}
		}
	}
	m.edits[edit.ID] = cloneEdit(*edit)
	return nil
}

func (m *InMemory) Get(ctx context.Context, id string) (StagedEdit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	edit, ok := m.edits[id]
	if !ok {
		return StagedEdit{}, ErrNotFound
	}
	return cloneEdit(edit), nil
}

func (m *InMemory) FindPending(ctx context.Context, key records.Key, principalID string) (StagedEdit, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, edit := range m.edits {
		if edit.Key == key && edit.PrincipalID == principalID && edit.Status == StatusPending {
			return cloneEdit(edit), true, nil
		}
	}
	return StagedEdit{}, false, nil
}

func (m *InMemory) Transition(ctx context.Context, id string, expect Status, update TransitionUpdate) (StagedEdit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	edit, ok := m.edits[id]
	if !ok {
		return StagedEdit{}, ErrNotFound
	}
	if edit.Status != expect {
		return StagedEdit{}, ErrInvariant
	}
	edit.Status = update.Status
	if update.ConflictedWith != "" {
		edit.ConflictedWith = update.ConflictedWith
	}
	if update.Resolution != "" {
		edit.Resolution = update.Resolution
	}
	if !update.UpdatedAt.IsZero() {
		edit.UpdatedAt = update.UpdatedAt
	}
	m.edits[id] = edit
	return cloneEdit(edit), nil
}

func cloneEdit(edit StagedEdit) StagedEdit {
	edit.Original = cloneMap(edit.Original)
	edit.Proposed = cloneMap(edit.Proposed)
	return edit
}
