// Package records is the persistence collaborator for business records.
// It exposes versioned field snapshots with compare-and-swap writes; the
// staged-edit pipeline and the canonical-field guard both build on that
// primitive. Nothing here takes record locks: reads are always lock-free.
package records

import (
	"context"
	"errors"
	"time"
)

// Key identifies one business record.
type Key struct {
	Module     string `json:"module"`
	RecordType string `json:"record_type"`
	RecordID   string `json:"record_id"`
}

func (k Key) String() string {
	return k.Module + "/" + k.RecordType + "/" + k.RecordID
}

// Record is a versioned snapshot of a business record's coordinated fields.
// Version increments on every successful write and backs the CAS check.
type Record struct {
	Key        Key               `json:"key"`
	FiscalYear int               `json:"fiscal_year"`
	EntityType string            `json:"entity_type"`
	Verified   bool              `json:"verified"`
	Fields     map[string]string `json:"fields"`
	Version    int64             `json:"version"`
	UpdatedBy  string            `json:"updated_by"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// CloneFields returns a copy of the field map, never nil.
func (r Record) CloneFields() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v
	}
	return out
}

var (
	ErrNotFound = errors.New("records: not found")
	ErrExists   = errors.New("records: already exists")
	// ErrModified is the CAS failure: the record's version moved between
	// the caller's read and its write.
	ErrModified = errors.New("records: modified concurrently")
	// ErrFieldFrozen is returned by the guard for canonical-field writes
	// on verified records inside a closed period.
	ErrFieldFrozen = errors.New("records: canonical field is frozen")
)

// Store is the atomic conditional read/write surface required by Commit and
// the canonical-field guard.
type Store interface {
	Get(ctx context.Context, key Key) (Record, error)
	Create(ctx context.Context, rec Record) error
	// CompareAndSwap overlays fields onto the record iff its version still
	// equals expectedVersion, incrementing the version. Returns ErrModified
	// when the predicate fails so the caller can surface a conflict.
	CompareAndSwap(ctx context.Context, key Key, expectedVersion int64, fields map[string]string, updatedBy string) (Record, error)
	// MarkVerified flags the record's canonical fields as reconciled
	// (e.g. bank-matched), arming the guard for closed periods.
	MarkVerified(ctx context.Context, key Key, updatedBy string) (Record, error)
}
