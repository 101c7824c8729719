// Package metrics exposes the Prometheus collectors for the generator
// service: roll outcomes, roll latency and HTTP handler instrumentation.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	rolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rolldeo",
			Subsystem: "engine",
			Name:      "rolls_total",
			Help:      "Total number of rolls evaluated.",
		},
		[]string{"kind", "status"},
	)

	rollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rolldeo",
			Subsystem: "engine",
			Name:      "roll_duration_seconds",
			Help:      "Duration of roll evaluation.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 100µs to ~0.8s
		},
		[]string{"kind"},
	)

	recursionLimitHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rolldeo",
			Subsystem: "engine",
			Name:      "recursion_limit_hits_total",
			Help:      "Rolls aborted by the recursion depth bound.",
		},
	)

	loadedCollections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "rolldeo",
			Subsystem: "engine",
			Name:      "loaded_collections",
			Help:      "Number of collections currently loaded.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rolldeo",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "rolldeo",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~2.6s
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		rolls,
		rollDuration,
		recursionLimitHits,
		loadedCollections,
		httpRequests,
		httpDuration,
		collectors.NewGoCollector(),
	)
}

// ObserveRoll records the outcome and duration of a single roll. Kind is one
// of "table", "template" or "pattern"; status is "ok" or "error".
func ObserveRoll(kind, status string, d time.Duration) {
	rolls.WithLabelValues(kind, status).Inc()
	rollDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// RecursionLimitHit counts a roll aborted by the depth bound.
func RecursionLimitHit() {
	recursionLimitHits.Inc()
}

// SetLoadedCollections updates the loaded-collections gauge.
func SetLoadedCollections(n int) {
	loadedCollections.Set(float64(n))
}

// Handler returns the /metrics HTTP handler for the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// InstrumentHandler wraps an HTTP handler with request counting and timing.
// The path label is the route template, not the raw URL, to bound cardinality.
func InstrumentHandler(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
