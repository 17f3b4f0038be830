package staging

import (
	"context"
	"errors"
	"testing"
	"time"

	"charterops.org/internal/access"
	"charterops.org/internal/audit"
	"charterops.org/internal/period"
	"charterops.org/internal/reclock"
	"charterops.org/internal/records"
)

type testEnv struct {
	mgr     *Manager
	recs    *records.InMemory
	periods *period.Manager
	audits  *audit.InMemory
	key     records.Key
}

// newTestEnv wires the full pipeline in memory: two principals with edit
// rights on invoicing, one seeded invoice record.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	auditStore := audit.NewInMemory()
	recorder, err := audit.NewRecorder(auditStore)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	accessStore := access.NewInMemory()
	now := time.Now().UTC()
	role := access.Role{
		ID:   "role-editor",
		Name: "invoice-editor",
		Permissions: []access.Permission{
			{Module: access.ModuleInvoicing, Action: access.ActionView},
			{Module: access.ModuleInvoicing, Action: access.ActionEdit},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := accessStore.Roles(ctx).Create(ctx, &role); err != nil {
		t.Fatalf("create role: %v", err)
	}
	for _, id := range []string{"acct-dispatcher", "acct-accountant", "acct-viewer"} {
		acct := &access.Account{
			ID: id, Name: id, Email: id + "@example.test",
			Status: access.StatusActive, CreatedAt: now, UpdatedAt: now,
		}
		if err := accessStore.Accounts(ctx).Create(ctx, acct); err != nil {
			t.Fatalf("create account %s: %v", id, err)
		}
		if id == "acct-viewer" {
			continue
		}
		if err := accessStore.Roles(ctx).Assign(ctx, id, role.ID); err != nil {
			t.Fatalf("assign role: %v", err)
		}
	}
	gate := access.NewGate(accessStore)

	periods, err := period.NewManager(period.NewInMemory(), recorder)
	if err != nil {
		t.Fatalf("new period manager: %v", err)
	}
	locks, err := reclock.NewManager(reclock.NewInMemory(), recorder)
	if err != nil {
		t.Fatalf("new lock manager: %v", err)
	}

	recStore := records.NewInMemory()
	key := records.Key{Module: "invoicing", RecordType: "invoices", RecordID: "INV-2025-1001"}
	if err := recStore.Create(ctx, records.Record{
		Key:        key,
		FiscalYear: 2025,
		EntityType: "invoices",
		Fields:     map[string]string{"amount": "480.00", "gst": "24.00", "vendor": "Skyline Charters"},
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	mgr, err := NewManager(NewInMemory(), records.NewGuarded(recStore, periods), gate, periods, locks, recorder)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return &testEnv{mgr: mgr, recs: recStore, periods: periods, audits: auditStore, key: key}
}

func mustStage(t *testing.T, env *testEnv, principal string, proposed map[string]string) StagedEdit {
	t.Helper()
	res, err := env.mgr.Stage(context.Background(), principal, env.key, proposed)
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if res.Outcome != OutcomeStaged {
		t.Fatalf("stage outcome = %s, want staged", res.Outcome)
	}
	return res.Edit
}

func TestStageAndCommit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	edit := mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})
	if edit.Status != StatusPending || edit.BaseVersion != 1 {
		t.Fatalf("edit = %+v", edit)
	}
	if edit.Original["amount"] != "480.00" {
		t.Fatalf("original snapshot missing: %+v", edit.Original)
	}

	res, err := env.mgr.Commit(ctx, edit.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Outcome != OutcomeCommitted {
		t.Fatalf("commit outcome = %s", res.Outcome)
	}
	if res.Record.Fields["amount"] != "520.00" || res.Record.Version != 2 {
		t.Fatalf("record after commit = %+v", res.Record)
	}
	// Untouched fields survive the overlay.
	if res.Record.Fields["vendor"] != "Skyline Charters" {
		t.Fatalf("vendor lost in commit: %+v", res.Record.Fields)
	}
	if res.Edit.Status != StatusCommitted {
		t.Fatalf("edit status = %s", res.Edit.Status)
	}

	// The lock is released: another principal can stage immediately.
	mustStage(t, env, "acct-accountant", map[string]string{"gst": "26.00"})
}

func TestCommitDetectsInterleavedWrite(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	edit := mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})

	// Another process writes the record directly while the edit is pending.
	rec, err := env.recs.Get(ctx, env.key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rec.Fields["amount"] = "999.99"
	rec.Version++
	rec.UpdatedBy = "acct-external"
	env.recs.Put(rec)

	before := env.audits.Len()
	res, err := env.mgr.Commit(ctx, edit.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Outcome != OutcomeConflicted {
		t.Fatalf("outcome = %s, want conflicted", res.Outcome)
	}
	if res.ConflictedWith != "acct-external" {
		t.Fatalf("conflicted_with = %q", res.ConflictedWith)
	}
	if res.Edit.Status != StatusConflicted {
		t.Fatalf("edit status = %s", res.Edit.Status)
	}
	if env.audits.Len() != before+1 {
		t.Fatalf("audit entries added = %d, want 1", env.audits.Len()-before)
	}

	// The external value stands; nothing was applied.
	after, err := env.recs.Get(ctx, env.key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Fields["amount"] != "999.99" {
		t.Fatalf("conflicting commit overwrote record: %+v", after.Fields)
	}
}

func TestRollbackLeavesRecordUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	before, err := env.recs.Get(ctx, env.key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	edit := mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})

	res, err := env.mgr.Rollback(ctx, edit.ID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if res.Outcome != OutcomeRolledBack || res.Edit.Status != StatusRolledBack {
		t.Fatalf("rollback result = %+v", res)
	}

	after, err := env.recs.Get(ctx, env.key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Version != before.Version || after.Fields["amount"] != before.Fields["amount"] {
		t.Fatalf("rollback mutated record: %+v -> %+v", before, after)
	}

	// Lock released: the other principal can stage.
	mustStage(t, env, "acct-accountant", map[string]string{"amount": "530.00"})
}

func TestCommitTwiceIsAnInvariantViolation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	edit := mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})
	if _, err := env.mgr.Commit(ctx, edit.ID); err != nil {
		t.Fatalf("commit: %v", err)
	}
	_, err := env.mgr.Commit(ctx, edit.ID)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("second commit: got %v, want ErrInvariant", err)
	}
	if _, err := env.mgr.Rollback(ctx, edit.ID); !errors.Is(err, ErrInvariant) {
		t.Fatalf("rollback after commit: got %v, want ErrInvariant", err)
	}
}

func TestStageRejectsSecondPendingEdit(t *testing.T) {
	env := newTestEnv(t)
	mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})

	_, err := env.mgr.Stage(context.Background(), "acct-dispatcher", env.key, map[string]string{"amount": "530.00"})
	if !errors.Is(err, ErrAlreadyStaged) {
		t.Fatalf("got %v, want ErrAlreadyStaged", err)
	}
}

func TestStageHeldByOtherPrincipal(t *testing.T) {
	env := newTestEnv(t)
	mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})

	res, err := env.mgr.Stage(context.Background(), "acct-accountant", env.key, map[string]string{"gst": "26.00"})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if res.Outcome != OutcomeHeld {
		t.Fatalf("outcome = %s, want held", res.Outcome)
	}
	if res.Held.Holder != "acct-dispatcher" {
		t.Fatalf("held by %q", res.Held.Holder)
	}
}

func TestStageDeniedWithoutPermission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.mgr.Stage(ctx, "acct-viewer", env.key, map[string]string{"amount": "520.00"})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if res.Outcome != OutcomeDenied {
		t.Fatalf("outcome = %s, want denied", res.Outcome)
	}
	if res.Decision.Reason != access.DenyNoPermission {
		t.Fatalf("reason = %q", res.Decision.Reason)
	}
}

func TestStageRejectedInClosedPeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.periods.EnableLock(ctx, 2025, "invoices", "acct-admin", nil, "year-end"); err != nil {
		t.Fatalf("enable period lock: %v", err)
	}
	res, err := env.mgr.Stage(ctx, "acct-dispatcher", env.key, map[string]string{"amount": "520.00"})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if res.Outcome != OutcomeClosedPeriod {
		t.Fatalf("outcome = %s, want period_closed", res.Outcome)
	}
}

func TestCommitRejectedWhenPeriodClosesAfterStage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	edit := mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})
	if _, err := env.periods.EnableLock(ctx, 2025, "invoices", "acct-admin", nil, "year-end"); err != nil {
		t.Fatalf("enable period lock: %v", err)
	}

	res, err := env.mgr.Commit(ctx, edit.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Outcome != OutcomeClosedPeriod {
		t.Fatalf("outcome = %s, want period_closed", res.Outcome)
	}
	// Still pending: the editor may retry after the period reopens.
	got, err := env.mgr.Get(ctx, edit.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusPending {
		t.Fatalf("edit status = %s, want pending", got.Status)
	}
}

func conflictedEdit(t *testing.T, env *testEnv) StagedEdit {
	t.Helper()
	ctx := context.Background()
	edit := mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})

	rec, err := env.recs.Get(ctx, env.key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rec.Fields["amount"] = "999.99"
	rec.Version++
	rec.UpdatedBy = "acct-external"
	env.recs.Put(rec)

	res, err := env.mgr.Commit(ctx, edit.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Outcome != OutcomeConflicted {
		t.Fatalf("outcome = %s, want conflicted", res.Outcome)
	}
	return res.Edit
}

func TestResolveKeepMine(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	edit := conflictedEdit(t, env)

	res, err := env.mgr.ResolveConflict(ctx, edit.ID, "acct-accountant", KeepMine, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Outcome != OutcomeCommitted {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Record.Fields["amount"] != "520.00" {
		t.Fatalf("keep_mine did not apply staged value: %+v", res.Record.Fields)
	}
	if res.Edit.Resolution != KeepMine {
		t.Fatalf("resolution = %s", res.Edit.Resolution)
	}
}

func TestResolveKeepTheirs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	edit := conflictedEdit(t, env)

	res, err := env.mgr.ResolveConflict(ctx, edit.ID, "acct-accountant", KeepTheirs, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Outcome != OutcomeRolledBack {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	rec, err := env.recs.Get(ctx, env.key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Fields["amount"] != "999.99" {
		t.Fatalf("keep_theirs mutated record: %+v", rec.Fields)
	}
}

func TestResolveMerge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	edit := conflictedEdit(t, env)

	res, err := env.mgr.ResolveConflict(ctx, edit.ID, "acct-accountant", Merge, map[string]string{"amount": "760.00"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if res.Outcome != OutcomeCommitted {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Record.Fields["amount"] != "760.00" {
		t.Fatalf("merge value not applied: %+v", res.Record.Fields)
	}

	if _, err := env.mgr.ResolveConflict(ctx, edit.ID, "acct-accountant", Merge, nil); err == nil {
		t.Fatalf("resolve of committed edit should fail")
	}
}

func TestResolveRequiresConflictedStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	edit := mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})
	_, err := env.mgr.ResolveConflict(ctx, edit.ID, "acct-accountant", KeepMine, nil)
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("got %v, want ErrInvariant", err)
	}
	if _, err := env.mgr.ResolveConflict(ctx, edit.ID, "acct-accountant", "split", nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("unknown resolution: got %v, want ErrInvalidInput", err)
	}
}

func TestCommitRejectsFrozenCanonicalField(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	edit := mustStage(t, env, "acct-dispatcher", map[string]string{"amount": "520.00"})

	// Between stage and commit the record is flagged verified (without a
	// version bump, as a reconciliation batch would) and the period closes
	// with edit still on the allow-list.
	rec, err := env.recs.Get(ctx, env.key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	rec.Verified = true
	env.recs.Put(rec)
	if _, err := env.periods.EnableLock(ctx, 2025, "invoices", "acct-admin",
		[]access.Action{access.ActionView, access.ActionEdit}, "reconciled"); err != nil {
		t.Fatalf("enable period lock: %v", err)
	}

	res, err := env.mgr.Commit(ctx, edit.ID)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if res.Outcome != OutcomeFrozen {
		t.Fatalf("outcome = %s, want field_frozen", res.Outcome)
	}

	after, err := env.recs.Get(ctx, env.key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Fields["amount"] != "480.00" {
		t.Fatalf("frozen field was written: %+v", after.Fields)
	}
}
