package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Shared HTTP metrics for the session service.
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

// Session reconciliation metrics. Sync outcomes: reconciled, local_only,
// degraded, quota_exceeded, signed_out, cached.
var (
	sessionSyncsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "session_syncs_total",
			Help: "Backend session synchronizations by outcome.",
		},
		[]string{"outcome"},
	)

	sessionSyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "session_sync_duration_seconds",
			Help:    "Latency of backend session synchronization.",
			Buckets: prometheus.DefBuckets,
		},
	)

	subscriptionRefreshesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_refreshes_total",
			Help: "Subscription refreshes by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers all collectors in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		sessionSyncsTotal, sessionSyncDuration, subscriptionRefreshesTotal,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveSessionSync records the outcome and duration of one sync pass.
func ObserveSessionSync(outcome string, d time.Duration) {
	sessionSyncsTotal.WithLabelValues(outcome).Inc()
	sessionSyncDuration.Observe(d.Seconds())
}

// ObserveSubscriptionRefresh records the outcome of one subscription refresh.
func ObserveSubscriptionRefresh(outcome string) {
	subscriptionRefreshesTotal.WithLabelValues(outcome).Inc()
}

// Instrument wraps a handler with RPS/latency/in-flight accounting.
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

// CanonicalPath strips query strings and normalizes the empty path so the
// per-path label set stays bounded.
func CanonicalPath(path string) string {
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	if path == "" {
		return "/"
	}
	return path
}

// statusWriter captures the response code written by downstream handlers.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
