package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"charterops.org/internal/access"
	"charterops.org/internal/period"
	"charterops.org/internal/stream"
)

type enablePeriodLockRequest struct {
	PrincipalID string   `json:"principal_id,omitempty"`
	AllowList   []string `json:"allow_list,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

type disablePeriodLockRequest struct {
	PrincipalID string `json:"principal_id,omitempty"`
}

// handlePeriodLock serves /v1/period-locks/{fiscal-year}/{entity-type}.
func (a *API) handlePeriodLock(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/period-locks/"), "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "resource not found")
		return
	}
	fiscalYear, err := strconv.Atoi(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fiscal year")
		return
	}
	entityType := parts[1]

	switch r.Method {
	case http.MethodGet:
		a.handlePeriodStatus(w, r, fiscalYear, entityType)
	case http.MethodPut:
		a.handlePeriodEnable(w, r, fiscalYear, entityType)
	case http.MethodDelete:
		a.handlePeriodDisable(w, r, fiscalYear, entityType)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

func (a *API) handlePeriodStatus(w http.ResponseWriter, r *http.Request, fiscalYear int, entityType string) {
	status, err := a.deps.Periods.Get(r.Context(), fiscalYear, entityType)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "period lookup failed")
		return
	}
	resp := map[string]any{"status": status}
	// ?action=edit also answers whether that action would pass the lock.
	if raw := r.URL.Query().Get("action"); raw != "" {
		action := access.Action(raw)
		if !access.ValidAction(action) {
			writeError(w, http.StatusBadRequest, "unknown action")
			return
		}
		allowed, err := a.deps.Periods.IsActionAllowed(r.Context(), fiscalYear, entityType, action)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "period lookup failed")
			return
		}
		resp["action"] = raw
		resp["allowed"] = allowed
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePeriodEnable(w http.ResponseWriter, r *http.Request, fiscalYear int, entityType string) {
	var req enablePeriodLockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, ok := a.principalID(r, req.PrincipalID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "principal required")
		return
	}
	if !a.allowMaintenance(w, r, principal) {
		return
	}
	// An explicit empty allow_list is a full freeze; only an absent field
	// falls through to the view-only default downstream.
	var allowList []access.Action
	if req.AllowList != nil {
		allowList = make([]access.Action, 0, len(req.AllowList))
	}
	for _, raw := range req.AllowList {
		action := access.Action(raw)
		if !access.ValidAction(action) {
			writeError(w, http.StatusBadRequest, "unknown action in allow list")
			return
		}
		allowList = append(allowList, action)
	}
	lock, err := a.deps.Periods.EnableLock(r.Context(), fiscalYear, entityType, principal, allowList, req.Notes)
	if err != nil {
		if errors.Is(err, period.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "period lock failed")
		return
	}
	a.publish(stream.Event{Kind: stream.KindPeriodLocked, PrincipalID: principal, Detail: entityType + "/" + strconv.Itoa(fiscalYear)})
	writeJSON(w, http.StatusOK, lock)
}

func (a *API) handlePeriodDisable(w http.ResponseWriter, r *http.Request, fiscalYear int, entityType string) {
	var req disablePeriodLockRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	principal, ok := a.principalID(r, req.PrincipalID)
	if !ok {
		writeError(w, http.StatusUnauthorized, "principal required")
		return
	}
	if !a.allowMaintenance(w, r, principal) {
		return
	}
	if err := a.deps.Periods.DisableLock(r.Context(), fiscalYear, entityType, principal); err != nil {
		if errors.Is(err, period.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "period unlock failed")
		return
	}
	a.publish(stream.Event{Kind: stream.KindPeriodOpened, PrincipalID: principal, Detail: entityType + "/" + strconv.Itoa(fiscalYear)})
	writeJSON(w, http.StatusOK, map[string]any{"disabled": true})
}

// allowMaintenance gates period administration on compliance maintenance.
func (a *API) allowMaintenance(w http.ResponseWriter, r *http.Request, principal string) bool {
	decision, err := a.deps.Gate.Authorize(r.Context(), principal, access.ModuleCompliance, access.ActionMaintenance, nil)
	if err != nil {
		if errors.Is(err, access.ErrNotFound) {
			writeError(w, http.StatusForbidden, "unknown principal")
			return false
		}
		writeError(w, http.StatusInternalServerError, "authorization failed")
		return false
	}
	if !decision.Allowed {
		writeError(w, http.StatusForbidden, "maintenance permission required")
		return false
	}
	return true
}
