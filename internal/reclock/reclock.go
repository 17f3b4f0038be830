// Package reclock implements short-lived exclusive record locks. A lock
// never queues a waiter: TryAcquire answers immediately and the caller
// retries or surfaces the holder to the user, so there is no wait-for graph
// to deadlock on. Expiry is lazy; every read treats an expired row as
// absent, and the sweep exists purely to reclaim storage.
package reclock

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"charterops.org/internal/audit"
	"charterops.org/internal/obs"
	"charterops.org/internal/records"
)

// DefaultTTL is how long a lock lives without renewal.
const DefaultTTL = 10 * time.Minute

var ErrInvalidInput = errors.New("reclock: invalid input")

// Lock is an exclusive claim on one record.
type Lock struct {
	Key        records.Key `json:"key"`
	Holder     string      `json:"holder"`
	AcquiredAt time.Time   `json:"acquired_at"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// Live reports whether the lock is unexpired at now.
func (l Lock) Live(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

// AcquireResult reports one TryAcquire outcome. Exactly one of Acquired or
// HeldBy semantics applies; a contended lock is not an error.
type AcquireResult struct {
	Acquired bool   `json:"acquired"`
	Lock     Lock   `json:"lock,omitempty"`
	Holder   string `json:"holder,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Store persists locks. Acquire must be atomic with respect to concurrent
// calls for the same key; implementations use a single conditional upsert
// guarded by the ownership/expiry predicate, never check-then-act.
type Store interface {
	// Acquire claims or extends the lock when it is absent, expired, or
	// already held by holder. On contention it returns the live lock and
	// ok=false.
	Acquire(ctx context.Context, key records.Key, holder string, now, expires time.Time) (Lock, bool, error)
	// Release deletes the row only when held by holder; reports whether a
	// row was deleted.
	Release(ctx context.Context, key records.Key, holder string) (bool, error)
	// DeleteExpired reclaims rows with expiry <= now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Manager exposes lock operations with auditing and TTL policy.
type Manager struct {
	store    Store
	recorder *audit.Recorder
	ttl      time.Duration
	now      func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithTTL overrides the default lock lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttl = ttl
		}
	}
}

// WithClock overrides the time source (used by expiry tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager constructs a Manager.
func NewManager(store Store, recorder *audit.Recorder, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if recorder == nil {
		return nil, fmt.Errorf("%w: audit recorder is required", ErrInvalidInput)
	}
	m := &Manager{store: store, recorder: recorder, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// TTL returns the configured lock lifetime.
func (m *Manager) TTL() time.Duration { return m.ttl }

// TryAcquire claims the lock for principal, extending it when the principal
// already holds it. On contention it returns HeldBy with a human-readable
// reason; callers retry after a delay or show it to the user.
func (m *Manager) TryAcquire(ctx context.Context, principal string, key records.Key) (AcquireResult, error) {
	if principal == "" || key.Module == "" || key.RecordType == "" || key.RecordID == "" {
		return AcquireResult{}, fmt.Errorf("%w: principal and full record key are required", ErrInvalidInput)
	}
	now := m.now().UTC()
	lock, ok, err := m.store.Acquire(ctx, key, principal, now, now.Add(m.ttl))
	if err != nil {
		return AcquireResult{}, err
	}
	if !ok && lock.Holder == "" {
		// The competing row vanished between the conditional upsert and the
		// follow-up read (holder released in the gap). One more attempt
		// settles it instead of reporting a denial with no holder.
		lock, ok, err = m.store.Acquire(ctx, key, principal, now, now.Add(m.ttl))
		if err != nil {
			return AcquireResult{}, err
		}
	}
	if !ok {
		obs.CountLockAcquisition(key.Module, "held")
		wait := int(math.Ceil(lock.ExpiresAt.Sub(now).Minutes()))
		if wait < 1 {
			wait = 1
		}
		reason := fmt.Sprintf("in use by %s; retry in ~%d minutes", lock.Holder, wait)
		if lock.Holder == "" {
			reason = "in use by another session; retry shortly"
		}
		res := AcquireResult{
			Holder: lock.Holder,
			Reason: reason,
		}
		recErr := m.recorder.Record(ctx, audit.Entry{
			PrincipalID: principal,
			Action:      "record_lock.denied",
			Module:      key.Module,
			EntityType:  key.RecordType,
			EntityID:    key.RecordID,
			Success:     false,
			Error:       res.Reason,
		})
		if recErr != nil {
			return AcquireResult{}, recErr
		}
		return res, nil
	}

	obs.CountLockAcquisition(key.Module, "acquired")
	err = m.recorder.Record(ctx, audit.Entry{
		PrincipalID: principal,
		Action:      "record_lock.acquire",
		Module:      key.Module,
		EntityType:  key.RecordType,
		EntityID:    key.RecordID,
		After:       audit.Snapshot(map[string]string{"expires_at": lock.ExpiresAt.Format(time.RFC3339)}),
		Success:     true,
	})
	if err != nil {
		return AcquireResult{}, err
	}
	return AcquireResult{Acquired: true, Lock: lock}, nil
}

// Release drops the principal's lock. Releasing a lock you do not hold is a
// no-op, not an error: the edit flow releases defensively after commit and
// rollback.
func (m *Manager) Release(ctx context.Context, principal string, key records.Key) error {
	if principal == "" || key.RecordID == "" {
		return fmt.Errorf("%w: principal and record key are required", ErrInvalidInput)
	}
	released, err := m.store.Release(ctx, key, principal)
	if err != nil {
		return err
	}
	if !released {
		return nil
	}
	return m.recorder.Record(ctx, audit.Entry{
		PrincipalID: principal,
		Action:      "record_lock.release",
		Module:      key.Module,
		EntityType:  key.RecordType,
		EntityID:    key.RecordID,
		Success:     true,
	})
}

// Sweep reclaims expired rows. Correctness never depends on it running.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	return m.store.DeleteExpired(ctx, m.now().UTC())
}
