package httpapi

import (
	"net/http"
	"strconv"
	"time"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// handleAudit queries the trail by entity or by time window.
//
//	GET /v1/audit?entity_type=invoice&entity_id=inv-1&limit=50
//	GET /v1/audit?from=2026-01-01T00:00:00Z&to=2026-02-01T00:00:00Z
func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	limit := defaultAuditLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxAuditLimit)
	}

	entityType, entityID := q.Get("entity_type"), q.Get("entity_id")
	if entityType != "" || entityID != "" {
		if entityType == "" || entityID == "" {
			writeError(w, http.StatusBadRequest, "entity_type and entity_id go together")
			return
		}
		entries, err := a.deps.Audit.ListByEntity(r.Context(), entityType, entityID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "audit query failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return
	}

	from, to := time.Time{}, time.Now().UTC()
	var err error
	if raw := q.Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid from timestamp")
			return
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to timestamp")
			return
		}
	}
	entries, err := a.deps.Audit.ListByTime(r.Context(), from, to, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "audit query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
