package httpapi

import (
	"errors"
	"net/http"
	"time"

	"charterops.org/internal/reclock"
	"charterops.org/internal/records"
	"charterops.org/internal/stream"
)

type lockRequest struct {
	PrincipalID string `json:"principal_id,omitempty"`
	Module      string `json:"module" validate:"required"`
	RecordType  string `json:"record_type" validate:"required"`
	RecordID    string `json:"record_id" validate:"required"`
}

func (req lockRequest) key() records.Key {
	return records.Key{Module: req.Module, RecordType: req.RecordType, RecordID: req.RecordID}
}

func (a *API) handleLockAcquire(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req lockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, ok := a.principalID(r, req.PrincipalID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "principal required")
		return
	}
	res, err := a.deps.Locks.TryAcquire(r.Context(), principal, req.key())
	if err != nil {
		if errors.Is(err, reclock.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "lock acquire failed")
		return
	}
	if !res.Acquired {
		a.publish(stream.Event{Kind: stream.KindLockDenied, Key: req.key(), PrincipalID: principal, Detail: res.Reason})
		writeJSON(w, http.StatusLocked, res)
		return
	}
	a.publish(stream.Event{Kind: stream.KindLockAcquired, Key: req.key(), PrincipalID: principal})
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleLockRelease(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req lockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, ok := a.principalID(r, req.PrincipalID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "principal required")
		return
	}
	if err := a.deps.Locks.Release(r.Context(), principal, req.key()); err != nil {
		if errors.Is(err, reclock.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "lock release failed")
		return
	}
	a.publish(stream.Event{Kind: stream.KindLockReleased, Key: req.key(), PrincipalID: principal})
	writeJSON(w, http.StatusOK, map[string]any{"released": true})
}

func (a *API) publish(evt stream.Event) {
	if a.deps.Events == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	a.deps.Events.Publish(evt)
}
