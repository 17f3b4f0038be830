package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"charterops.org/internal/access"
	"charterops.org/internal/records"
)

type createRecordRequest struct {
	PrincipalID string            `json:"principal_id,omitempty"`
	Module      string            `json:"module" validate:"required"`
	RecordType  string            `json:"record_type" validate:"required"`
	RecordID    string            `json:"record_id" validate:"required"`
	FiscalYear  int               `json:"fiscal_year" validate:"required"`
	EntityType  string            `json:"entity_type" validate:"required"`
	Fields      map[string]string `json:"fields,omitempty"`
}

func (a *API) handleRecords(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req createRecordRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, ok := a.principalID(r, req.PrincipalID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "principal required")
		return
	}
	decision, err := a.deps.Gate.Authorize(r.Context(), principal, req.Module, access.ActionAdd, nil)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, http.StatusForbidden, "unknown principal")
			return
		}
		writeError(w, http.StatusInternalServerError, "authorization failed")
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusForbidden, decision)
		return
	}
	rec := records.Record{
		Key:        records.Key{Module: req.Module, RecordType: req.RecordType, RecordID: req.RecordID},
		FiscalYear: req.FiscalYear,
		EntityType: req.EntityType,
		Fields:     req.Fields,
		UpdatedBy:  principal,
	}
	if rec.Fields == nil {
		rec.Fields = map[string]string{}
	}
	if err := a.deps.Records.Create(r.Context(), rec); err != nil {
		a.recordError(w, err)
		return
	}
	created, err := a.deps.Records.Get(r.Context(), rec.Key)
	if err != nil {
		a.recordError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// handleRecordResource serves /v1/records/{module}/{type}/{id}[/verify].
func (a *API) handleRecordResource(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/records/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) < 3 || len(parts) > 4 {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	key := records.Key{Module: parts[0], RecordType: parts[1], RecordID: parts[2]}

	if len(parts) == 3 {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		rec, err := a.deps.Records.Get(r.Context(), key)
		if err != nil {
			a.recordError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	if parts[3] != "verify" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req struct {
		PrincipalID string `json:"principal_id,omitempty"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, ok := a.principalID(r, req.PrincipalID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "principal required")
		return
	}
	decision, err := a.deps.Gate.Authorize(r.Context(), principal, key.Module, access.ActionApprove, nil)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, http.StatusForbidden, "unknown principal")
			return
		}
		writeError(w, http.StatusInternalServerError, "authorization failed")
		return
	}
	if !decision.Allowed {
		writeJSON(w, http.StatusForbidden, decision)
		return
	}
	rec, err := a.deps.Records.MarkVerified(r.Context(), key, principal)
	if err != nil {
		a.recordError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) recordError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, records.ErrNotFound):
		writeError(w, http.StatusNotFound, "record not found")
	case errors.Is(err, records.ErrExists):
		writeError(w, http.StatusConflict, "record already exists")
	case errors.Is(err, records.ErrModified):
		writeError(w, http.StatusConflict, "record modified concurrently")
	case errors.Is(err, records.ErrFieldFrozen):
		writeError(w, http.StatusUnprocessableEntity, "canonical field is frozen for this period")
	default:
		writeError(w, http.StatusInternalServerError, "record operation failed")
	}
}
