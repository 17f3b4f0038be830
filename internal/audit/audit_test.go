package audit

import (
	"context"
	"testing"
	"time"
)

func TestRecordFillsIdentityAndTimestamp(t *testing.T) {
	store := NewInMemory()
	rec, err := NewRecorder(store)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	ctx := WithRequestID(context.Background(), "req-42")
	if err := rec.Record(ctx, Entry{
		Action:      "record_lock.acquire",
		PrincipalID: "acct-1",
		EntityType:  "record_lock",
		EntityID:    "invoicing/invoices/INV-1",
		Success:     true,
	}); err != nil {
		t.Fatalf("record: %v", err)
	}

	entries, err := store.ListByEntity(ctx, "record_lock", "invoicing/invoices/INV-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	got := entries[0]
	if got.ID == "" {
		t.Fatalf("entry id not assigned")
	}
	if got.OccurredAt.IsZero() {
		t.Fatalf("occurred_at not assigned")
	}
	if got.RequestID != "req-42" {
		t.Fatalf("request id = %q, want req-42", got.RequestID)
	}
}

func TestRecordRejectsMissingAction(t *testing.T) {
	rec, err := NewRecorder(NewInMemory())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	if err := rec.Record(context.Background(), Entry{EntityType: "record", EntityID: "x"}); err == nil {
		t.Fatalf("expected error for missing action")
	}
}

func TestListByEntityNewestFirst(t *testing.T) {
	store := NewInMemory()
	rec, err := NewRecorder(store)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rec.now = func() time.Time { return base }

	ctx := context.Background()
	for i, action := range []string{"staged_edit.stage", "staged_edit.commit", "record_lock.release"} {
		rec.now = func() time.Time { return base.Add(time.Duration(i) * time.Minute) }
		if err := rec.Record(ctx, Entry{
			Action:     action,
			EntityType: "staged_edit",
			EntityID:   "edit-1",
			Success:    true,
		}); err != nil {
			t.Fatalf("record %s: %v", action, err)
		}
	}

	entries, err := store.ListByEntity(ctx, "staged_edit", "edit-1", 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3", len(entries))
	}
	if entries[0].Action != "record_lock.release" || entries[2].Action != "staged_edit.stage" {
		t.Fatalf("entries not newest-first: %s .. %s", entries[0].Action, entries[2].Action)
	}
}

func TestListByTimeWindow(t *testing.T) {
	store := NewInMemory()
	rec, err := NewRecorder(store)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		ts := base.Add(time.Duration(i) * time.Hour)
		rec.now = func() time.Time { return ts }
		if err := rec.Record(ctx, Entry{
			Action:     "period_lock.enable",
			EntityType: "period_lock",
			EntityID:   "2026/invoices",
			Success:    true,
		}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	// Half-open window: the entry at exactly `to` stays out.
	entries, err := store.ListByTime(ctx, base.Add(time.Hour), base.Add(3*time.Hour), 10)
	if err != nil {
		t.Fatalf("list by time: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries in window, want 2", len(entries))
	}
	for _, e := range entries {
		if !e.OccurredAt.Before(base.Add(3 * time.Hour)) {
			t.Fatalf("entry at %v should be excluded by the upper bound", e.OccurredAt)
		}
	}
}

func TestSnapshotDistinguishesNilFromEmpty(t *testing.T) {
	if got := Snapshot(nil); got != nil {
		t.Fatalf("nil fields should produce nil snapshot, got %s", got)
	}
	got := Snapshot(map[string]string{})
	if string(got) != "{}" {
		t.Fatalf("empty fields snapshot = %s, want {}", got)
	}
	got = Snapshot(map[string]string{"amount": "120.00"})
	if string(got) != `{"amount":"120.00"}` {
		t.Fatalf("snapshot = %s", got)
	}
}
