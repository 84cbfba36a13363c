package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Counter: artifact lookups by outcome (hit | miss | error).
	CacheLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifact_cache_lookups_total",
			Help: "Artifact cache existence probes by result.",
		},
		[]string{"result"},
	)

	// Counter: store operations by backend, op and result.
	StoreOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "artifact_store_ops_total",
			Help: "Object store operations by backend, operation and result.",
		},
		[]string{"backend", "op", "result"},
	)

	// Counter: callers that joined an in-flight render instead of starting one.
	RenderSharedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "render_shared_total",
			Help: "Requests served by another request's in-flight render.",
		},
	)

	// Counter: eth_call invocations by method and result.
	ChainCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chain_calls_total",
			Help: "Contract read calls by method and result.",
		},
		[]string{"method", "result"},
	)

	// Histogram: browser render latency in seconds.
	RenderDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "render_duration_seconds",
			Help:    "Headless browser render latency in seconds.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"result"},
	)

	// Histogram: HTTP latency in seconds.
	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "renderer_http_latency_seconds",
			Help:    "HTTP request latency for the renderer in seconds.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"path", "method", "status_code"},
	)

	registerOnce sync.Once
)

// Register is called once in main() to register metrics.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			CacheLookupsTotal,
			StoreOpsTotal,
			RenderSharedTotal,
			ChainCallsTotal,
			RenderDurationSeconds,
			HTTPLatencySeconds,
		)
	})
}

// Handler exposes the /metrics endpoint for Prometheus to scrape.
func Handler() http.Handler {
	return promhttp.Handler()
}

// unmatchedRoute labels requests no route matched (404s, scans).
const unmatchedRoute = "unmatched"

// Middleware measures latency for each HTTP request. The path label is the
// chi route pattern so token ids and stray URLs do not explode cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// capture status code
		rec := &statusRecorder{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(rec, r)

		path := unmatchedRoute
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}

		HTTPLatencySeconds.
			WithLabelValues(path, r.Method, strconv.Itoa(rec.statusCode)).
			Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.statusCode = code
	r.ResponseWriter.WriteHeader(code)
}
