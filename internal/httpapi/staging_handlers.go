package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"charterops.org/internal/records"
	"charterops.org/internal/staging"
	"charterops.org/internal/stream"
)

type stageRequest struct {
	PrincipalID string            `json:"principal_id,omitempty"`
	Module      string            `json:"module" validate:"required"`
	RecordType  string            `json:"record_type" validate:"required"`
	RecordID    string            `json:"record_id" validate:"required"`
	Proposed    map[string]string `json:"proposed" validate:"required,min=1"`
}

type resolveRequest struct {
	PrincipalID string            `json:"principal_id,omitempty"`
	Resolution  string            `json:"resolution" validate:"required"`
	Merged      map[string]string `json:"merged,omitempty"`
}

func (a *API) handleStagedEdits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req stageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, ok := a.principalID(r, req.PrincipalID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "principal required")
		return
	}
	key := records.Key{Module: req.Module, RecordType: req.RecordType, RecordID: req.RecordID}
	res, err := a.deps.Staging.Stage(r.Context(), principal, key, req.Proposed)
	if err != nil {
		a.stagingError(w, err)
		return
	}
	switch res.Outcome {
	case staging.OutcomeStaged:
		w.Header().Set("Location", "/v1/staged-edits/"+res.Edit.ID)
		writeJSON(w, http.StatusCreated, res)
	case staging.OutcomeDenied:
		writeJSON(w, http.StatusForbidden, res)
	case staging.OutcomeClosedPeriod:
		writeJSON(w, http.StatusConflict, res)
	case staging.OutcomeHeld:
		a.publish(stream.Event{Kind: stream.KindLockDenied, Key: key, PrincipalID: principal, Detail: res.Held.Reason})
		writeJSON(w, http.StatusLocked, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *API) handleStagedEditResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/staged-edits/"), "/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(rest, "/")
	editID := parts[0]

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		edit, err := a.deps.Staging.Get(r.Context(), editID)
		if err != nil {
			a.stagingError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, edit)
		return
	}
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	switch parts[1] {
	case "commit":
		a.handleCommit(w, r, editID)
	case "rollback":
		a.handleRollback(w, r, editID)
	case "resolve":
		a.handleResolve(w, r, editID)
	default:
		writeError(w, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleCommit(w http.ResponseWriter, r *http.Request, editID string) {
	res, err := a.deps.Staging.Commit(r.Context(), editID)
	if err != nil {
		a.stagingError(w, err)
		return
	}
	a.writeEditResult(w, res)
}

func (a *API) handleRollback(w http.ResponseWriter, r *http.Request, editID string) {
	res, err := a.deps.Staging.Rollback(r.Context(), editID)
	if err != nil {
		a.stagingError(w, err)
		return
	}
	a.writeEditResult(w, res)
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request, editID string) {
	var req resolveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, ok := a.principalID(r, req.PrincipalID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "principal required")
		return
	}
	resolution := staging.Resolution(req.Resolution)
	if !staging.ValidResolution(resolution) {
		writeError(w, http.StatusBadRequest, "unknown resolution")
		return
	}
	res, err := a.deps.Staging.ResolveConflict(r.Context(), editID, principal, resolution, req.Merged)
	if err != nil {
		a.stagingError(w, err)
		return
	}
	a.writeEditResult(w, res)
}

func (a *API) writeEditResult(w http.ResponseWriter, res staging.EditResult) {
	switch res.Outcome {
	case staging.OutcomeCommitted:
		a.publish(stream.Event{Kind: stream.KindCommitted, Key: res.Edit.Key, PrincipalID: res.Edit.PrincipalID})
		writeJSON(w, http.StatusOK, res)
	case staging.OutcomeConflicted:
		a.publish(stream.Event{Kind: stream.KindConflicted, Key: res.Edit.Key, PrincipalID: res.Edit.PrincipalID, Detail: res.ConflictedWith})
		writeJSON(w, http.StatusConflict, res)
	case staging.OutcomeRolledBack:
		a.publish(stream.Event{Kind: stream.KindRolledBack, Key: res.Edit.Key, PrincipalID: res.Edit.PrincipalID})
		writeJSON(w, http.StatusOK, res)
	case staging.OutcomeFrozen:
		writeJSON(w, http.StatusUnprocessableEntity, res)
	case staging.OutcomeClosedPeriod:
		writeJSON(w, http.StatusConflict, res)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (a *API) stagingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, staging.ErrNotFound), errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "staged edit or record not found")
	case errors.Is(err, staging.ErrAlreadyStaged):
		writeError(w, http.StatusConflict, "a pending edit already exists for this record")
	case errors.Is(err, staging.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, staging.ErrInvariant):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "staged edit operation failed")
	}
}
