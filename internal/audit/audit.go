package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"charterops.org/internal/access"
	"charterops.org/internal/ids"
	"charterops.org/internal/obs"
)

// Entry is one immutable row of the audit trail. There is no update or
// delete path anywhere in the codebase; stores only ever append.
type Entry struct {
	ID          string          `json:"id"`
	OccurredAt  time.Time       `json:"occurred_at"`
	PrincipalID string          `json:"principal_id"`
	Action      string          `json:"action"`
	Module      string          `json:"module,omitempty"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Before      json.RawMessage `json:"before,omitempty"`
	After       json.RawMessage `json:"after,omitempty"`
	Success     bool            `json:"success"`
	Error       string          `json:"error,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
}

// Store appends and queries immutable entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	ListByEntity(ctx context.Context, entityType, entityID string, limit int) ([]Entry, error)
	// ListByTime returns entries in the half-open window [from, to),
	// newest first.
	ListByTime(ctx context.Context, from, to time.Time, limit int) ([]Entry, error)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit rows.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the audit request id from context if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Recorder writes entries to the durable store and mirrors each one as a
// structured JSON log line.
type Recorder struct {
	store Store
	now   func() time.Time
}

// NewRecorder builds a recorder over the given store.
func NewRecorder(store Store) (*Recorder, error) {
	if store == nil {
		return nil, errors.New("audit store is required")
	}
	return &Recorder{store: store, now: time.Now}, nil
}

// Record fills in id, timestamp and request context, appends the entry and
// emits it to the shared logger. Entries missing an action are rejected.
func (r *Recorder) Record(ctx context.Context, entry Entry) error {
	entry.Action = strings.TrimSpace(entry.Action)
	if entry.Action == "" {
		return errors.New("audit action is required")
	}
	if entry.ID == "" {
		entry.ID = ids.New()
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = r.now().UTC()
	}
	if entry.RequestID == "" {
		entry.RequestID = RequestIDFromContext(ctx)
	}
	if entry.PrincipalID == "" {
		if p, ok := access.PrincipalFromContext(ctx); ok {
			entry.PrincipalID = p.ID()
		}
	}

	if err := r.store.Append(ctx, &entry); err != nil {
		return err
	}

	line := map[string]any{
		"ts":     entry.OccurredAt.Format(time.RFC3339Nano),
		"type":   "audit",
		"event":  entry.Action,
		"entity": entry.EntityType + "/" + entry.EntityID,
	}
	if entry.PrincipalID != "" {
		line["principal_id"] = entry.PrincipalID
	}
	if entry.RequestID != "" {
		line["request_id"] = entry.RequestID
	}
	if !entry.Success {
		line["success"] = false
		if entry.Error != "" {
			line["error"] = entry.Error
		}
	}
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	obs.Logger().Println(string(data))
	return nil
}

// Snapshot marshals a field map for the before/after columns. A nil map
// produces a null snapshot, distinguishing "no state" from "empty state".
func Snapshot(fields map[string]string) json.RawMessage {
	if fields == nil {
		return nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return data
}
