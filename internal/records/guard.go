package records

import (
	"context"
	"fmt"
)

// CanonicalFields are the reconciled financial fields whose immutability is
// enforced at the persistence layer once a record is verified and its
// period is closed.
var CanonicalFields = map[string]struct{}{
	"amount":         {},
	"gst":            {},
	"vendor":         {},
	"payment_method": {},
}

// PeriodChecker reports whether the period lock for (fiscalYear, entityType)
// is enabled. Satisfied by period.Manager.
type PeriodChecker interface {
	IsLocked(ctx context.Context, fiscalYear int, entityType string) (bool, error)
}

// Guarded wraps a Store and rejects canonical-field changes to verified
// records while their period lock is enabled. It sits at the persistence
// point, beneath the access gate and the staged-edit pipeline, so no caller
// path can write around it.
type Guarded struct {
	inner   Store
	periods PeriodChecker
}

// NewGuarded wraps store with the canonical-field guard.
func NewGuarded(store Store, periods PeriodChecker) *Guarded {
	return &Guarded{inner: store, periods: periods}
}

func (g *Guarded) Get(ctx context.Context, key Key) (Record, error) {
	return g.inner.Get(ctx, key)
}

func (g *Guarded) Create(ctx context.Context, rec Record) error {
	return g.inner.Create(ctx, rec)
}

func (g *Guarded) MarkVerified(ctx context.Context, key Key, updatedBy string) (Record, error) {
	return g.inner.MarkVerified(ctx, key, updatedBy)
}

func (g *Guarded) CompareAndSwap(ctx context.Context, key Key, expectedVersion int64, fields map[string]string, updatedBy string) (Record, error) {
	current, err := g.inner.Get(ctx, key)
	if err != nil {
		return Record{}, err
	}
	if current.Verified {
		locked, err := g.periods.IsLocked(ctx, current.FiscalYear, current.EntityType)
		if err != nil {
			return Record{}, err
		}
		if locked {
			for name, value := range fields {
				if _, canonical := CanonicalFields[name]; !canonical {
					continue
				}
				if current.Fields[name] != value {
					return Record{}, fmt.Errorf("%w: %s (fiscal year %d closed)", ErrFieldFrozen, name, current.FiscalYear)
				}
			}
		}
	}
	return g.inner.CompareAndSwap(ctx, key, expectedVersion, fields, updatedBy)
}
