// Package staging holds proposed record mutations between edit and commit.
// Every write travels the same pipeline: access gate, period gate, record
// lock, snapshot, then a compare-and-swap commit that either applies the
// proposal or surfaces a conflict to a human. The system never overwrites a
// concurrent change silently.
package staging

import (
	"context"
	"errors"
	"time"

	"charterops.org/internal/records"
)

// Status is the staged edit lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusCommitted  Status = "committed"
	StatusRolledBack Status = "rolled_back"
	StatusConflicted Status = "conflicted"
)

// Resolution is the human decision applied to a conflicted edit.
type Resolution string

const (
	KeepMine   Resolution = "keep_mine"
	KeepTheirs Resolution = "keep_theirs"
	Merge      Resolution = "merge"
)

// ValidResolution reports whether r is one of the closed set.
func ValidResolution(r Resolution) bool {
	switch r {
	case KeepMine, KeepTheirs, Merge:
		return true
	}
	return false
}

// StagedEdit is a proposed, not-yet-applied mutation.
type StagedEdit struct {
	ID          string            `json:"id"`
	PrincipalID string            `json:"principal_id"`
	Key         records.Key       `json:"key"`
	BaseVersion int64             `json:"base_version"`
	Original    map[string]string `json:"original"`
	Proposed    map[string]string `json:"proposed"`
	Status      Status            `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	// ConflictedWith is the principal whose interleaved commit caused the
	// conflict; empty unless Status is (or passed through) conflicted.
	ConflictedWith string     `json:"conflicted_with,omitempty"`
	Resolution     Resolution `json:"resolution,omitempty"`
}

var (
	ErrNotFound     = errors.New("staging: not found")
	ErrInvalidInput = errors.New("staging: invalid input")
	// ErrInvariant marks transitions that are impossible through the
	// public API, e.g. committing an edit that is not pending. It halts
	// the request, never the process.
	ErrInvariant = errors.New("staging: invariant violation")
	// ErrAlreadyStaged enforces at most one pending edit per record and
	// holder.
	ErrAlreadyStaged = errors.New("staging: pending edit already exists for this record")
)

// Store persists staged edits. Transition applies a status change only when
// the stored status still matches expect, so concurrent transitions of the
// same edit cannot both win.
type Store interface {
	Create(ctx context.Context, edit *StagedEdit) error
	Get(ctx context.Context, id string) (StagedEdit, error)
	// FindPending returns the pending edit for (key, principal) if any.
	FindPending(ctx context.Context, key records.Key, principalID string) (StagedEdit, bool, error)
	// Transition updates status, conflictedWith and resolution iff the
	// stored status equals expect; returns ErrInvariant otherwise.
	Transition(ctx context.Context, id string, expect Status, update TransitionUpdate) (StagedEdit, error)
}

// TransitionUpdate carries the fields a transition may change.
type TransitionUpdate struct {
	Status         Status
	ConflictedWith string
	Resolution     Resolution
	UpdatedAt      time.Time
}
