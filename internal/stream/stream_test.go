package stream

import (
	"context"
	"testing"
	"time"

	"charterops.org/internal/records"
)

func TestPublishFansOut(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)

	evt := Event{
		Kind:        KindLockAcquired,
		Key:         records.Key{Module: "invoicing", RecordType: "invoices", RecordID: "INV-1"},
		PrincipalID: "acct-dispatcher",
	}
	s.Publish(evt)

	for _, ch := range []<-chan Event{a, b} {
		select {
		case got := <-ch:
			if got.Kind != KindLockAcquired || got.PrincipalID != "acct-dispatcher" {
				t.Fatalf("event = %+v", got)
			}
			if got.Timestamp.IsZero() {
				t.Fatalf("timestamp not stamped")
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive event")
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	// Overfill the buffer; Publish must never block.
	for i := 0; i < 40; i++ {
		s.Publish(Event{Kind: KindCommitted})
	}

	var received int
	for {
		select {
		case <-ch:
			received++
			continue
		default:
		}
		break
	}
	if received == 0 || received > 16 {
		t.Fatalf("received = %d, want 1..16", received)
	}
}

func TestSubscribeClosesOnContextCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}

	// Publishing after unsubscribe is a no-op.
	s.Publish(Event{Kind: KindRolledBack})
}
