package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Coordination metrics. Labels stay low-cardinality: module only, never record ids.
var (
	lockAcquisitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "record_lock_acquisitions_total",
			Help: "Record lock acquisitions, by module and outcome.",
		},
		[]string{"module", "outcome"},
	)

	stagedEditResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "staged_edit_results_total",
			Help: "Staged edit terminal results, by module and status.",
		},
		[]string{"module", "status"},
	)

	periodDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "period_lock_denials_total",
			Help: "Actions rejected by a closed fiscal period.",
		},
		[]string{"entity_type", "action"},
	)

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "service_ready",
		Help: "1 when the service considers itself ready.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		lockAcquisitions, stagedEditResults, periodDenials, readyGauge,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady flips the readiness gauge.
func SetReady(ready bool) {
	if ready {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

// CountLockAcquisition records a lock acquisition attempt outcome
// ("acquired" or "held").
func CountLockAcquisition(module, outcome string) {
	lockAcquisitions.WithLabelValues(module, outcome).Inc()
}

// CountStagedEditResult records a staged edit reaching a terminal status.
func CountStagedEditResult(module, status string) {
	stagedEditResults.WithLabelValues(module, status).Inc()
}

// CountPeriodDenial records an action rejected by a period lock.
func CountPeriodDenial(entityType, action string) {
	periodDenials.WithLabelValues(entityType, action).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight measurement.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labelling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach flush and deadline support on
// the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
