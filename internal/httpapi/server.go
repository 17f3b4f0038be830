// Package httpapi is the HTTP surface over the coordination managers. It
// owns request decoding, status mapping and the middleware chain; the
// ordering guarantees live in the managers, never here.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"charterops.org/internal/access"
	"charterops.org/internal/audit"
	"charterops.org/internal/config"
	"charterops.org/internal/obs"
	"charterops.org/internal/period"
	"charterops.org/internal/reclock"
	"charterops.org/internal/records"
	"charterops.org/internal/staging"
	"charterops.org/internal/stream"
)

var validate = validator.New()

// ReadyProbe reports readiness; with a DB configured it pings it.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries every collaborator the API serves.
type Deps struct {
	Gate    *access.Gate
	Access  *access.Service
	Tokens  *access.Tokens
	Staging *staging.Manager
	Locks   *reclock.Manager
	Periods *period.Manager
	Records records.Store
	Audit   audit.Store
	Events  *stream.Stream
	Ready   ReadyProbe
	HTTP    config.HTTPConfig
	Version string
}

// API is the HTTP layer.
type API struct {
	mux     *http.ServeMux
	deps    Deps
	version string
}

func New(deps Deps) *API {
	a := &API{
		mux:     http.NewServeMux(),
		deps:    deps,
		version: deps.Version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/access/check", a.handleAccessCheck)
	a.mux.HandleFunc("/v1/accounts", a.handleAccounts)
	a.mux.HandleFunc("/v1/accounts/", a.handleAccountResource)
	a.mux.HandleFunc("/v1/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)

	a.mux.HandleFunc("/v1/locks/acquire", a.handleLockAcquire)
	a.mux.HandleFunc("/v1/locks/release", a.handleLockRelease)

	a.mux.HandleFunc("/v1/staged-edits", a.handleStagedEdits)
	a.mux.HandleFunc("/v1/staged-edits/", a.handleStagedEditResource)

	a.mux.HandleFunc("/v1/period-locks/", a.handlePeriodLock)

	a.mux.HandleFunc("/v1/records", a.handleRecords)
	a.mux.HandleFunc("/v1/records/", a.handleRecordResource)

	a.mux.HandleFunc("/v1/audit", a.handleAudit)
	a.mux.HandleFunc("/v1/events", a.handleEvents)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler: metrics outermost, then the
// hardening chain, authentication innermost so every guarded handler can
// assume a principal in context.
func (a *API) Handler() http.Handler {
	maxBody := a.deps.HTTP.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	burst, perSecond := a.deps.HTTP.RateBurst, a.deps.HTTP.RatePerSecond
	if burst <= 0 {
		burst = 20
	}
	if perSecond <= 0 {
		perSecond = 10
	}

	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, maxBody)
	h = RateLimit(h, burst, perSecond)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	h = RequestID(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "charterops-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "charterops-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

// decodeJSON decodes and validates the request body.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return err
	}
	return validate.Struct(dst)
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
