package stream

import (
	"context"
	"sync"
	"time"

	"charterops.org/internal/records"
)

// EventKind classifies coordination events pushed to dashboard subscribers.
type EventKind string

const (
	KindLockAcquired EventKind = "lock_acquired"
	KindLockDenied   EventKind = "lock_denied"
	KindLockReleased EventKind = "lock_released"
	KindCommitted    EventKind = "committed"
	KindConflicted   EventKind = "conflicted"
	KindRolledBack   EventKind = "rolled_back"
	KindPeriodLocked EventKind = "period_locked"
	KindPeriodOpened EventKind = "period_opened"
)

// Event describes one coordination state change for the live ops view.
type Event struct {
	Kind        EventKind   `json:"kind"`
	Key         records.Key `json:"key,omitempty"`
	PrincipalID string      `json:"principal_id,omitempty"`
	Detail      string      `json:"detail,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// Stream fan-outs events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
