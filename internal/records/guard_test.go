package records

import (
	"context"
	"errors"
	"testing"
)

type stubPeriods struct {
	locked map[string]bool
}

func (s stubPeriods) IsLocked(ctx context.Context, fiscalYear int, entityType string) (bool, error) {
	return s.locked[entityType], nil
}

func seedRecord(t *testing.T, store *InMemory, verified bool) Record {
	t.Helper()
	rec := Record{
		Key:        Key{Module: "invoicing", RecordType: "invoices", RecordID: "INV-2025-1001"},
		FiscalYear: 2025,
		EntityType: "invoices",
		Verified:   verified,
		Fields: map[string]string{
			"amount":     "480.00",
			"gst":        "24.00",
			"vendor":     "Skyline Charters",
			"charter_id": "CH-889",
			"notes":      "",
		},
	}
	if err := store.Create(context.Background(), rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.Get(context.Background(), rec.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return got
}

func TestGuardFreezesCanonicalFieldInClosedPeriod(t *testing.T) {
	store := NewInMemory()
	guard := NewGuarded(store, stubPeriods{locked: map[string]bool{"invoices": true}})
	rec := seedRecord(t, store, true)

	_, err := guard.CompareAndSwap(context.Background(), rec.Key, rec.Version,
		map[string]string{"amount": "500.00"}, "acct-accountant")
	if !errors.Is(err, ErrFieldFrozen) {
		t.Fatalf("got %v, want ErrFieldFrozen", err)
	}

	// The record is untouched.
	after, err := store.Get(context.Background(), rec.Key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if after.Version != rec.Version || after.Fields["amount"] != "480.00" {
		t.Fatalf("record mutated despite frozen field: %+v", after)
	}
}

func TestGuardAllowsNonCanonicalFieldInClosedPeriod(t *testing.T) {
	store := NewInMemory()
	guard := NewGuarded(store, stubPeriods{locked: map[string]bool{"invoices": true}})
	rec := seedRecord(t, store, true)

	got, err := guard.CompareAndSwap(context.Background(), rec.Key, rec.Version,
		map[string]string{"notes": "reconciled with bank feed"}, "acct-accountant")
	if err != nil {
		t.Fatalf("non-canonical write: %v", err)
	}
	if got.Fields["notes"] != "reconciled with bank feed" {
		t.Fatalf("notes not updated: %+v", got.Fields)
	}
}

func TestGuardAllowsSameValueCanonicalWrite(t *testing.T) {
	store := NewInMemory()
	guard := NewGuarded(store, stubPeriods{locked: map[string]bool{"invoices": true}})
	rec := seedRecord(t, store, true)

	if _, err := guard.CompareAndSwap(context.Background(), rec.Key, rec.Version,
		map[string]string{"amount": "480.00", "notes": "touched"}, "acct-accountant"); err != nil {
		t.Fatalf("same-value canonical write: %v", err)
	}
}

func TestGuardIgnoresUnverifiedRecords(t *testing.T) {
	store := NewInMemory()
	guard := NewGuarded(store, stubPeriods{locked: map[string]bool{"invoices": true}})
	rec := seedRecord(t, store, false)

	if _, err := guard.CompareAndSwap(context.Background(), rec.Key, rec.Version,
		map[string]string{"amount": "500.00"}, "acct-accountant"); err != nil {
		t.Fatalf("unverified record should accept canonical writes: %v", err)
	}
}

func TestGuardIgnoresOpenPeriods(t *testing.T) {
	store := NewInMemory()
	guard := NewGuarded(store, stubPeriods{})
	rec := seedRecord(t, store, true)

	if _, err := guard.CompareAndSwap(context.Background(), rec.Key, rec.Version,
		map[string]string{"amount": "500.00"}, "acct-accountant"); err != nil {
		t.Fatalf("open period should accept canonical writes: %v", err)
	}
}

func TestCompareAndSwapRejectsStaleVersion(t *testing.T) {
	store := NewInMemory()
	rec := seedRecord(t, store, false)

	if _, err := store.CompareAndSwap(context.Background(), rec.Key, rec.Version,
		map[string]string{"amount": "500.00"}, "acct-a"); err != nil {
		t.Fatalf("first write: %v", err)
	}
	_, err := store.CompareAndSwap(context.Background(), rec.Key, rec.Version,
		map[string]string{"amount": "510.00"}, "acct-b")
	if !errors.Is(err, ErrModified) {
		t.Fatalf("got %v, want ErrModified", err)
	}
}
