package obs

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Decision metrics.
var (
	DecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantgate_decisions_total",
			Help: "Authorization decisions by permission, outcome and reason.",
		},
		[]string{"permission", "outcome", "reason"},
	)

	EvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "plantgate_evaluation_duration_seconds",
		Help:    "Time spent producing a decision, including ledger side effects.",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
	})

	UnknownPermissionTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plantgate_unknown_permission_total",
			Help: "Evaluations referencing a token outside the capability catalog.",
		},
	)

	AuditDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plantgate_audit_records_dropped_total",
		Help: "Audit records dropped because the sink buffer was full or closed.",
	})

	AuditWriteFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "plantgate_audit_write_failures_total",
		Help: "Audit batches the backing writer failed to persist.",
	})

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantgate_sessions_total",
			Help: "Session lifecycle events.",
		},
		[]string{"event"},
	)

	SoDOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plantgate_sod_operations_total",
			Help: "Segregation-of-duty ledger operations by result.",
		},
		[]string{"op", "result"},
	)
)

// HTTP metrics for the ops surface.
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

	readyGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "plantgate_ready",
		Help: "1 when every backing store answered the last readiness probe.",
	})
)

var initOnce sync.Once

// Init registers all collectors in the default registry. Safe to call twice.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			DecisionsTotal, EvaluationDuration, UnknownPermissionTotal,
			AuditDroppedTotal, AuditWriteFailuresTotal,
			SessionsTotal, SoDOperationsTotal,
			httpInFlight, httpRequestsTotal, httpRequestDuration, readyGauge,
		)
	})
}

// Handler serves the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetReady records the outcome of the last readiness probe.
func SetReady(ok bool) {
	if ok {
		readyGauge.Set(1)
		return
	}
	readyGauge.Set(0)
}

var knownPaths = map[string]struct{}{
	"/healthz":    {},
	"/readyz":     {},
	"/metrics":    {},
	"/v1/info":    {},
	"/v1/catalog": {},
}

// CanonicalPath bounds the path label cardinality of HTTP metrics.
func CanonicalPath(p string) string {
	if i := strings.IndexByte(p, '?'); i >= 0 {
		p = p[:i]
	}
	if p == "" || p == "/" {
		return "/"
	}
	if _, ok := knownPaths[p]; ok {
		return p
	}
	return "other"
}

// Instrument measures RPS, latency and in-flight requests.
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

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
