package period

import (
	"context"
	"errors"
	"testing"

	"charterops.org/internal/access"
	"charterops.org/internal/audit"
)

func newTestManager(t *testing.T) (*Manager, *audit.InMemory) {
	t.Helper()
	auditStore := audit.NewInMemory()
	rec, err := audit.NewRecorder(auditStore)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	mgr, err := NewManager(NewInMemory(), rec)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return mgr, auditStore
}

func TestAbsentPeriodIsOpen(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	for _, action := range []access.Action{access.ActionView, access.ActionEdit, access.ActionDelete} {
		ok, err := mgr.IsActionAllowed(ctx, 2025, "invoices", action)
		if err != nil {
			t.Fatalf("is allowed: %v", err)
		}
		if !ok {
			t.Fatalf("%s should be allowed with no lock row", action)
		}
	}
	locked, err := mgr.IsLocked(ctx, 2025, "invoices")
	if err != nil {
		t.Fatalf("is locked: %v", err)
	}
	if locked {
		t.Fatalf("absent row reported as locked")
	}
}

func TestEnableLockDefaultsToViewOnly(t *testing.T) {
	mgr, auditStore := newTestManager(t)
	ctx := context.Background()

	lock, err := mgr.EnableLock(ctx, 2025, "invoices", "acct-admin", nil, "year-end close")
	if err != nil {
		t.Fatalf("enable lock: %v", err)
	}
	if len(lock.AllowList) != 1 || lock.AllowList[0] != access.ActionView {
		t.Fatalf("allow list = %v, want [view]", lock.AllowList)
	}

	ok, err := mgr.IsActionAllowed(ctx, 2025, "invoices", access.ActionView)
	if err != nil || !ok {
		t.Fatalf("view should survive the default lock: ok=%v err=%v", ok, err)
	}
	ok, err = mgr.IsActionAllowed(ctx, 2025, "invoices", access.ActionEdit)
	if err != nil {
		t.Fatalf("is allowed: %v", err)
	}
	if ok {
		t.Fatalf("edit should be rejected in locked period")
	}
	if auditStore.Len() != 1 {
		t.Fatalf("audit entries = %d, want 1", auditStore.Len())
	}
}

func TestEnableLockEmptyAllowListFreezesEverything(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.EnableLock(ctx, 2024, "receipts", "acct-admin", []access.Action{}, ""); err != nil {
		t.Fatalf("enable lock: %v", err)
	}
	for _, action := range []access.Action{access.ActionView, access.ActionEdit} {
		ok, err := mgr.IsActionAllowed(ctx, 2024, "receipts", action)
		if err != nil {
			t.Fatalf("is allowed: %v", err)
		}
		if ok {
			t.Fatalf("%s should be rejected under a full freeze", action)
		}
	}
}

func TestEnableLockRejectsUnknownAction(t *testing.T) {
	mgr, _ := newTestManager(t)
	_, err := mgr.EnableLock(context.Background(), 2025, "invoices", "acct-admin", []access.Action{"detonate"}, "")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v, want ErrInvalidInput", err)
	}
}

func TestDisableLockKeepsRowHistory(t *testing.T) {
	mgr, auditStore := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.EnableLock(ctx, 2025, "payroll", "acct-admin", nil, "audit in progress"); err != nil {
		t.Fatalf("enable lock: %v", err)
	}
	if err := mgr.DisableLock(ctx, 2025, "payroll", "acct-admin"); err != nil {
		t.Fatalf("disable lock: %v", err)
	}

	status, err := mgr.Get(ctx, 2025, "payroll")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if status.Open {
		t.Fatalf("row should still exist after disable")
	}
	if status.Lock.Enabled {
		t.Fatalf("lock should be disabled")
	}

	ok, err := mgr.IsActionAllowed(ctx, 2025, "payroll", access.ActionEdit)
	if err != nil || !ok {
		t.Fatalf("edit should be allowed after reopen: ok=%v err=%v", ok, err)
	}
	locked, err := mgr.IsLocked(ctx, 2025, "payroll")
	if err != nil {
		t.Fatalf("is locked: %v", err)
	}
	if locked {
		t.Fatalf("disabled lock reported as locked")
	}
	if auditStore.Len() != 2 {
		t.Fatalf("audit entries = %d, want 2", auditStore.Len())
	}
}
