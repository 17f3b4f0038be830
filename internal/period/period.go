// Package period implements fiscal-period immutability locks. A lock is
// keyed by (fiscal year, entity type), deliberately coarser than a record:
// the business case is "close last year's books", not "lock this invoice".
// Per-record freezing is the record lock / staged edit layer's job.
package period

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"charterops.org/internal/access"
	"charterops.org/internal/audit"
	"charterops.org/internal/obs"
)

var (
	ErrInvalidInput = errors.New("period: invalid input")
)

// Lock is the stored freeze row for one (fiscal year, entity type).
type Lock struct {
	FiscalYear int             `json:"fiscal_year"`
	EntityType string          `json:"entity_type"`
	Enabled    bool            `json:"enabled"`
	AllowList  []access.Action `json:"allow_list"`
	LockedBy   string          `json:"locked_by"`
	LockedAt   time.Time       `json:"locked_at"`
	Notes      string          `json:"notes,omitempty"`
}

// Allows reports whether action survives this lock.
func (l Lock) Allows(action access.Action) bool {
	if !l.Enabled {
		return true
	}
	for _, a := range l.AllowList {
		if a == action {
			return true
		}
	}
	return false
}

// Status makes the absence of a lock row explicit instead of relying on
// nil checks at call sites. Open means no row exists: fully permitted.
type Status struct {
	Open bool `json:"open"`
	Lock Lock `json:"lock,omitempty"`
}

// Store persists period locks.
type Store interface {
	// Get returns Status{Open: true} when no row exists for the key.
	Get(ctx context.Context, fiscalYear int, entityType string) (Status, error)
	Upsert(ctx context.Context, lock Lock) error
}

// Manager evaluates and administers period locks. Every administrative
// transition writes an audit entry.
type Manager struct {
	store    Store
	recorder *audit.Recorder
	now      func() time.Time
}

// NewManager constructs a Manager.
func NewManager(store Store, recorder *audit.Recorder) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if recorder == nil {
		return nil, fmt.Errorf("%w: audit recorder is required", ErrInvalidInput)
	}
	return &Manager{store: store, recorder: recorder, now: time.Now}, nil
}

// IsActionAllowed is the hot-path check, evaluated before any lock
// acquisition so closed periods reject attempts cheaply and independent of
// lock contention.
func (m *Manager) IsActionAllowed(ctx context.Context, fiscalYear int, entityType string, action access.Action) (bool, error) {
	status, err := m.store.Get(ctx, fiscalYear, entityType)
	if err != nil {
		return false, err
	}
	if status.Open {
		return true, nil
	}
	allowed := status.Lock.Allows(action)
	if !allowed {
		obs.CountPeriodDenial(entityType, string(action))
	}
	return allowed, nil
}

// IsLocked reports whether an enabled lock row exists for the key. The
// canonical-field guard uses this; the allow-list is irrelevant there.
func (m *Manager) IsLocked(ctx context.Context, fiscalYear int, entityType string) (bool, error) {
	status, err := m.store.Get(ctx, fiscalYear, entityType)
	if err != nil {
		return false, err
	}
	return !status.Open && status.Lock.Enabled, nil
}

// Get returns the stored status for administrative views.
func (m *Manager) Get(ctx context.Context, fiscalYear int, entityType string) (Status, error) {
	return m.store.Get(ctx, fiscalYear, entityType)
}

// EnableLock freezes (fiscalYear, entityType) down to allowList. A nil
// allowList defaults to view-only; an explicitly empty one is a legal full
// freeze that rejects every action.
func (m *Manager) EnableLock(ctx context.Context, fiscalYear int, entityType, lockedBy string, allowList []access.Action, notes string) (Lock, error) {
	if fiscalYear <= 0 || entityType == "" || lockedBy == "" {
		return Lock{}, fmt.Errorf("%w: fiscal year, entity type and locked_by are required", ErrInvalidInput)
	}
	if allowList == nil {
		allowList = []access.Action{access.ActionView}
	}
	for _, a := range allowList {
		if !access.ValidAction(a) {
			return Lock{}, fmt.Errorf("%w: unknown action %q", ErrInvalidInput, a)
		}
	}

	lock := Lock{
		FiscalYear: fiscalYear,
		EntityType: entityType,
		Enabled:    true,
		AllowList:  allowList,
		LockedBy:   lockedBy,
		LockedAt:   m.now().UTC(),
		Notes:      notes,
	}
	if err := m.store.Upsert(ctx, lock); err != nil {
		return Lock{}, err
	}

	after := map[string]string{"enabled": "true", "notes": notes}
	for _, a := range allowList {
		after["allow_"+string(a)] = "true"
	}
	err := m.recorder.Record(ctx, audit.Entry{
		PrincipalID: lockedBy,
		Action:      "period_lock.enable",
		EntityType:  entityType,
		EntityID:    strconv.Itoa(fiscalYear),
		After:       audit.Snapshot(after),
		Success:     true,
	})
	if err != nil {
		return Lock{}, err
	}
	return lock, nil
}

// DisableLock reopens the period. The row is kept with enabled=false so the
// lock history (who locked, notes) survives.
func (m *Manager) DisableLock(ctx context.Context, fiscalYear int, entityType, disabledBy string) error {
	if fiscalYear <= 0 || entityType == "" {
		return fmt.Errorf("%w: fiscal year and entity type are required", ErrInvalidInput)
	}
	status, err := m.store.Get(ctx, fiscalYear, entityType)
	if err != nil {
		return err
	}
	lock := status.Lock
	if status.Open {
		lock = Lock{FiscalYear: fiscalYear, EntityType: entityType}
	}
	lock.Enabled = false
	lock.LockedBy = disabledBy
	lock.LockedAt = m.now().UTC()
	if err := m.store.Upsert(ctx, lock); err != nil {
		return err
	}
	return m.recorder.Record(ctx, audit.Entry{
		PrincipalID: disabledBy,
		Action:      "period_lock.disable",
		EntityType:  entityType,
		EntityID:    strconv.Itoa(fiscalYear),
		After:       audit.Snapshot(map[string]string{"enabled": "false"}),
		Success:     true,
	})
}
