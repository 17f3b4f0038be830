package staging

import (
	"context"
	"errors"
	"testing"
	"time"

	"charterops.org/internal/records"
)

func pendingEdit(id, principalID string) *StagedEdit {
	now := time.Now().UTC()
	return &StagedEdit{
		ID:          id,
		PrincipalID: principalID,
		Key:         records.Key{Module: "invoicing", RecordType: "invoices", RecordID: "INV-2025-1001"},
		BaseVersion: 1,
		Original:    map[string]string{"amount": "480.00"},
		Proposed:    map[string]string{"amount": "520.00"},
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestInMemoryCreateRejectsSecondPending(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	if err := store.Create(ctx, pendingEdit("edit-1", "acct-dispatcher")); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if err := store.Create(ctx, pendingEdit("edit-2", "acct-dispatcher")); !errors.Is(err, ErrAlreadyStaged) {
		t.Fatalf("second pending create err = %v, want ErrAlreadyStaged", err)
	}

	// Another principal on the same record is a distinct pending slot.
	if err := store.Create(ctx, pendingEdit("edit-3", "acct-accountant")); err != nil {
		t.Fatalf("other principal create: %v", err)
	}
}

func TestInMemoryCreateAllowsNewPendingAfterTransition(t *testing.T) {
	ctx := context.Background()
	store := NewInMemory()

	if err := store.Create(ctx, pendingEdit("edit-1", "acct-dispatcher")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.Transition(ctx, "edit-1", StatusPending, TransitionUpdate{
		Status:    StatusCommitted,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := store.Create(ctx, pendingEdit("edit-2", "acct-dispatcher")); err != nil {
		t.Fatalf("create after commit: %v", err)
	}
}
