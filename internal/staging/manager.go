package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"charterops.org/internal/access"
	"charterops.org/internal/audit"
	"charterops.org/internal/ids"
	"charterops.org/internal/obs"
	"charterops.org/internal/period"
	"charterops.org/internal/reclock"
	"charterops.org/internal/records"
)

// Outcome tags every staged-edit operation result so callers can render
// each case distinctly.
type Outcome string

const (
	OutcomeDenied       Outcome = "denied"
	OutcomeClosedPeriod Outcome = "period_closed"
	OutcomeHeld         Outcome = "held"
	OutcomeStaged       Outcome = "staged"
	OutcomeCommitted    Outcome = "committed"
	OutcomeConflicted   Outcome = "conflicted"
	OutcomeRolledBack   Outcome = "rolled_back"
	OutcomeFrozen       Outcome = "field_frozen"
)

// StageResult is the answer to Stage.
type StageResult struct {
	Outcome  Outcome               `json:"outcome"`
	Edit     StagedEdit            `json:"edit,omitempty"`
	Decision access.Decision       `json:"decision,omitempty"`
	Held     reclock.AcquireResult `json:"held,omitempty"`
}

// EditResult is the answer to Commit, Rollback and ResolveConflict.
type EditResult struct {
	Outcome        Outcome        `json:"outcome"`
	Edit           StagedEdit     `json:"edit"`
	Record         records.Record `json:"record,omitempty"`
	ConflictedWith string         `json:"conflicted_with,omitempty"`
}

// Manager drives the staged-edit pipeline. The ordering guarantees live
// here, not in caller discipline: Stage checks gate, period and lock before
// snapshotting; Commit re-reads and compare-and-swaps.
type Manager struct {
	store    Store
	recs     records.Store
	gate     *access.Gate
	periods  *period.Manager
	locks    *reclock.Manager
	recorder *audit.Recorder
	now      func() time.Time
}

// NewManager wires the pipeline. The records store should be the guarded
// one so canonical-field freezes hold even here.
func NewManager(store Store, recs records.Store, gate *access.Gate, periods *period.Manager, locks *reclock.Manager, recorder *audit.Recorder) (*Manager, error) {
	if store == nil || recs == nil || gate == nil || periods == nil || locks == nil || recorder == nil {
		return nil, fmt.Errorf("%w: all collaborators are required", ErrInvalidInput)
	}
	return &Manager{
		store:    store,
		recs:     recs,
		gate:     gate,
		periods:  periods,
		locks:    locks,
		recorder: recorder,
		now:      time.Now,
	}, nil
}

// Stage creates a pending edit after the full admission pipeline: edit
// permission, an open period, and the record lock (acquired transparently
// when absent, per the lock manager's own-or-extend semantics).
func (m *Manager) Stage(ctx context.Context, principalID string, key records.Key, proposed map[string]string) (StageResult, error) {
	if principalID == "" || key.RecordID == "" || len(proposed) == 0 {
		return StageResult{}, fmt.Errorf("%w: principal, record key and proposed values are required", ErrInvalidInput)
	}

	decision, err := m.gate.Authorize(ctx, principalID, key.Module, access.ActionEdit, nil)
	if err != nil {
		return StageResult{}, err
	}
	if !decision.Allowed {
		return StageResult{Outcome: OutcomeDenied, Decision: decision}, nil
	}

	rec, err := m.recs.Get(ctx, key)
	if err != nil {
		return StageResult{}, err
	}

	if scope := scopeRefFromRecord(rec); scope != nil {
		decision, err = m.gate.Authorize(ctx, principalID, key.Module, access.ActionEdit, scope)
		if err != nil {
			return StageResult{}, err
		}
		if !decision.Allowed {
			return StageResult{Outcome: OutcomeDenied, Decision: decision}, nil
		}
	}

	allowed, err := m.periods.IsActionAllowed(ctx, rec.FiscalYear, rec.EntityType, access.ActionEdit)
	if err != nil {
		return StageResult{}, err
	}
	if !allowed {
		recErr := m.recorder.Record(ctx, audit.Entry{
			PrincipalID: principalID,
			Action:      "staged_edit.rejected_closed_period",
			Module:      key.Module,
			EntityType:  key.RecordType,
			EntityID:    key.RecordID,
			Success:     false,
			Error:       fmt.Sprintf("fiscal year %d is closed for edit", rec.FiscalYear),
		})
		if recErr != nil {
			return StageResult{}, recErr
		}
		return StageResult{Outcome: OutcomeClosedPeriod}, nil
	}

	if _, exists, err := m.store.FindPending(ctx, key, principalID); err != nil {
		return StageResult{}, err
	} else if exists {
		return StageResult{}, ErrAlreadyStaged
	}

	acq, err := m.locks.TryAcquire(ctx, principalID, key)
	if err != nil {
		return StageResult{}, err
	}
	if !acq.Acquired {
		return StageResult{Outcome: OutcomeHeld, Held: acq}, nil
	}

	now := m.now().UTC()
	edit := StagedEdit{
		ID:          ids.New(),
		PrincipalID: principalID,
		Key:         key,
		BaseVersion: rec.Version,
		Original:    rec.CloneFields(),
		Proposed:    cloneMap(proposed),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := m.store.Create(ctx, &edit); err != nil {
		return StageResult{}, err
	}

	err = m.recorder.Record(ctx, audit.Entry{
		PrincipalID: principalID,
		Action:      "staged_edit.stage",
		Module:      key.Module,
		EntityType:  key.RecordType,
		EntityID:    key.RecordID,
		Before:      audit.Snapshot(edit.Original),
		After:       audit.Snapshot(edit.Proposed),
		Success:     true,
	})
	if err != nil {
		return StageResult{}, err
	}
	return StageResult{Outcome: OutcomeStaged, Edit: edit}, nil
}

// Commit re-reads the record and applies the proposal only if the persisted
// state is unchanged since staging. An interleaved change marks the edit
// conflicted, records who made the interleaved commit, and applies nothing.
func (m *Manager) Commit(ctx context.Context, editID string) (EditResult, error) {
	edit, err := m.store.Get(ctx, editID)
	if err != nil {
		return EditResult{}, err
	}
	if edit.Status != StatusPending {
		return EditResult{}, fmt.Errorf("%w: commit of %s edit %s", ErrInvariant, edit.Status, edit.ID)
	}

	rec, err := m.recs.Get(ctx, edit.Key)
	if err != nil {
		return EditResult{}, err
	}

	allowed, err := m.periods.IsActionAllowed(ctx, rec.FiscalYear, rec.EntityType, access.ActionEdit)
	if err != nil {
		return EditResult{}, err
	}
	if !allowed {
		recErr := m.recorder.Record(ctx, audit.Entry{
			PrincipalID: edit.PrincipalID,
			Action:      "staged_edit.rejected_closed_period",
			Module:      edit.Key.Module,
			EntityType:  edit.Key.RecordType,
			EntityID:    edit.Key.RecordID,
			Success:     false,
			Error:       fmt.Sprintf("fiscal year %d is closed for edit", rec.FiscalYear),
		})
		if recErr != nil {
			return EditResult{}, recErr
		}
		return EditResult{Outcome: OutcomeClosedPeriod, Edit: edit}, nil
	}

	if rec.Version != edit.BaseVersion || !mapsEqual(rec.Fields, edit.Original) {
		return m.markConflicted(ctx, edit, rec)
	}

	applied, err := m.recs.CompareAndSwap(ctx, edit.Key, edit.BaseVersion, edit.Proposed, edit.PrincipalID)
	if errors.Is(err, records.ErrModified) {
		// Raced with a concurrent commit between the read above and the
		// conditional write.
		rec, gerr := m.recs.Get(ctx, edit.Key)
		if gerr != nil {
			return EditResult{}, gerr
		}
		return m.markConflicted(ctx, edit, rec)
	}
	if errors.Is(err, records.ErrFieldFrozen) {
		return m.markFrozen(ctx, edit, err)
	}
	if err != nil {
		return EditResult{}, err
	}

	edit, err = m.store.Transition(ctx, edit.ID, StatusPending, TransitionUpdate{
		Status:    StatusCommitted,
		UpdatedAt: m.now().UTC(),
	})
	if err != nil {
		return EditResult{}, err
	}
	if err := m.locks.Release(ctx, edit.PrincipalID, edit.Key); err != nil {
		return EditResult{}, err
	}

	obs.CountStagedEditResult(edit.Key.Module, string(StatusCommitted))
	err = m.recorder.Record(ctx, audit.Entry{
		PrincipalID: edit.PrincipalID,
		Action:      "staged_edit.commit",
		Module:      edit.Key.Module,
		EntityType:  edit.Key.RecordType,
		EntityID:    edit.Key.RecordID,
		Before:      audit.Snapshot(edit.Original),
		After:       audit.Snapshot(applied.Fields),
		Success:     true,
	})
	if err != nil {
		return EditResult{}, err
	}
	return EditResult{Outcome: OutcomeCommitted, Edit: edit, Record: applied}, nil
}

// Rollback discards a pending edit, releases the lock and leaves the
// persisted record untouched.
func (m *Manager) Rollback(ctx context.Context, editID string) (EditResult, error) {
	edit, err := m.store.Get(ctx, editID)
	if err != nil {
		return EditResult{}, err
	}
	if edit.Status != StatusPending {
		return EditResult{}, fmt.Errorf("%w: rollback of %s edit %s", ErrInvariant, edit.Status, edit.ID)
	}

	edit, err = m.store.Transition(ctx, edit.ID, StatusPending, TransitionUpdate{
		Status:    StatusRolledBack,
		UpdatedAt: m.now().UTC(),
	})
	if err != nil {
		return EditResult{}, err
	}
	if err := m.locks.Release(ctx, edit.PrincipalID, edit.Key); err != nil {
		return EditResult{}, err
	}

	obs.CountStagedEditResult(edit.Key.Module, string(StatusRolledBack))
	err = m.recorder.Record(ctx, audit.Entry{
		PrincipalID: edit.PrincipalID,
		Action:      "staged_edit.rollback",
		Module:      edit.Key.Module,
		EntityType:  edit.Key.RecordType,
		EntityID:    edit.Key.RecordID,
		Before:      audit.Snapshot(edit.Proposed),
		Success:     true,
	})
	if err != nil {
		return EditResult{}, err
	}
	return EditResult{Outcome: OutcomeRolledBack, Edit: edit}, nil
}

// ResolveConflict applies a human decision to a conflicted edit. keep_mine
// re-applies the staged values, merge applies caller-supplied merged
// values, keep_theirs discards the stage. Re-application goes through the
// same CAS, so a further interleaved change re-conflicts rather than
// overwriting.
func (m *Manager) ResolveConflict(ctx context.Context, editID, resolverID string, resolution Resolution, merged map[string]string) (EditResult, error) {
	if !ValidResolution(resolution) {
		return EditResult{}, fmt.Errorf("%w: unknown resolution %q", ErrInvalidInput, resolution)
	}
	edit, err := m.store.Get(ctx, editID)
	if err != nil {
		return EditResult{}, err
	}
	if edit.Status != StatusConflicted {
		return EditResult{}, fmt.Errorf("%w: resolve of %s edit %s", ErrInvariant, edit.Status, edit.ID)
	}

	if resolution == KeepTheirs {
		edit, err = m.store.Transition(ctx, edit.ID, StatusConflicted, TransitionUpdate{
			Status:     StatusRolledBack,
			Resolution: KeepTheirs,
			UpdatedAt:  m.now().UTC(),
		})
		if err != nil {
			return EditResult{}, err
		}
		if err := m.locks.Release(ctx, edit.PrincipalID, edit.Key); err != nil {
			return EditResult{}, err
		}
		obs.CountStagedEditResult(edit.Key.Module, string(StatusRolledBack))
		err = m.recorder.Record(ctx, audit.Entry{
			PrincipalID: resolverID,
			Action:      "staged_edit.resolve",
			Module:      edit.Key.Module,
			EntityType:  edit.Key.RecordType,
			EntityID:    edit.Key.RecordID,
			After:       audit.Snapshot(map[string]string{"resolution": string(KeepTheirs)}),
			Success:     true,
		})
		if err != nil {
			return EditResult{}, err
		}
		return EditResult{Outcome: OutcomeRolledBack, Edit: edit}, nil
	}

	values := edit.Proposed
	if resolution == Merge {
		if len(merged) == 0 {
			return EditResult{}, fmt.Errorf("%w: merge resolution requires merged values", ErrInvalidInput)
		}
		values = cloneMap(merged)
	}

	rec, err := m.recs.Get(ctx, edit.Key)
	if err != nil {
		return EditResult{}, err
	}
	applied, err := m.recs.CompareAndSwap(ctx, edit.Key, rec.Version, values, edit.PrincipalID)
	if errors.Is(err, records.ErrModified) {
		rec, gerr := m.recs.Get(ctx, edit.Key)
		if gerr != nil {
			return EditResult{}, gerr
		}
		edit, terr := m.store.Transition(ctx, edit.ID, StatusConflicted, TransitionUpdate{
			Status:         StatusConflicted,
			ConflictedWith: rec.UpdatedBy,
			UpdatedAt:      m.now().UTC(),
		})
		if terr != nil {
			return EditResult{}, terr
		}
		return EditResult{Outcome: OutcomeConflicted, Edit: edit, ConflictedWith: rec.UpdatedBy}, nil
	}
	if errors.Is(err, records.ErrFieldFrozen) {
		return m.markFrozen(ctx, edit, err)
	}
	if err != nil {
		return EditResult{}, err
	}

	edit, err = m.store.Transition(ctx, edit.ID, StatusConflicted, TransitionUpdate{
		Status:     StatusCommitted,
		Resolution: resolution,
		UpdatedAt:  m.now().UTC(),
	})
	if err != nil {
		return EditResult{}, err
	}
	if err := m.locks.Release(ctx, edit.PrincipalID, edit.Key); err != nil {
		return EditResult{}, err
	}

	obs.CountStagedEditResult(edit.Key.Module, string(StatusCommitted))
	err = m.recorder.Record(ctx, audit.Entry{
		PrincipalID: resolverID,
		Action:      "staged_edit.resolve",
		Module:      edit.Key.Module,
		EntityType:  edit.Key.RecordType,
		EntityID:    edit.Key.RecordID,
		Before:      audit.Snapshot(edit.Original),
		After:       audit.Snapshot(applied.Fields),
		Success:     true,
	})
	if err != nil {
		return EditResult{}, err
	}
	return EditResult{Outcome: OutcomeCommitted, Edit: edit, Record: applied}, nil
}

// Get returns a staged edit by id.
func (m *Manager) Get(ctx context.Context, editID string) (StagedEdit, error) {
	return m.store.Get(ctx, editID)
}

func (m *Manager) markConflicted(ctx context.Context, edit StagedEdit, rec records.Record) (EditResult, error) {
	updated, err := m.store.Transition(ctx, edit.ID, StatusPending, TransitionUpdate{
		Status:         StatusConflicted,
		ConflictedWith: rec.UpdatedBy,
		UpdatedAt:      m.now().UTC(),
	})
	if err != nil {
		return EditResult{}, err
	}
	obs.CountStagedEditResult(edit.Key.Module, string(StatusConflicted))
	err = m.recorder.Record(ctx, audit.Entry{
		PrincipalID: edit.PrincipalID,
		Action:      "staged_edit.conflict",
		Module:      edit.Key.Module,
		EntityType:  edit.Key.RecordType,
		EntityID:    edit.Key.RecordID,
		Before:      audit.Snapshot(edit.Original),
		After:       audit.Snapshot(rec.Fields),
		Success:     false,
		Error:       "record changed since staging by " + rec.UpdatedBy,
	})
	if err != nil {
		return EditResult{}, err
	}
	return EditResult{Outcome: OutcomeConflicted, Edit: updated, ConflictedWith: rec.UpdatedBy}, nil
}

func (m *Manager) markFrozen(ctx context.Context, edit StagedEdit, cause error) (EditResult, error) {
	recErr := m.recorder.Record(ctx, audit.Entry{
		PrincipalID: edit.PrincipalID,
		Action:      "staged_edit.rejected_frozen_field",
		Module:      edit.Key.Module,
		EntityType:  edit.Key.RecordType,
		EntityID:    edit.Key.RecordID,
		Success:     false,
		Error:       cause.Error(),
	})
	if recErr != nil {
		return EditResult{}, recErr
	}
	return EditResult{Outcome: OutcomeFrozen, Edit: edit}, nil
}

// scopeRefFromRecord derives the record's charter scope when present, so the
// gate can apply charter-level data restrictions to edits.
func scopeRefFromRecord(rec records.Record) *access.ScopeRef {
	if v, ok := rec.Fields["charter_id"]; ok && v != "" {
		return &access.ScopeRef{Type: "charter_id", Value: v}
	}
	return nil
}

func cloneMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func mapsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
