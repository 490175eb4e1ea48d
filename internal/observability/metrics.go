// Package observability holds process-wide Prometheus collectors.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runPersistGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "runnerz",
		Subsystem: "persistence",
		Name:      "last_run_persisted_timestamp_seconds",
		Help:      "Unix timestamp of the most recent run write committed to the store.",
	})

	runWritesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runnerz",
		Subsystem: "persistence",
		Name:      "run_writes_total",
		Help:      "Number of committed run writes grouped by operation.",
	}, []string{"op"})

	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runnerz",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests handled, labeled by route pattern, method and status code.",
	}, []string{"route", "method", "code"})

	httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "runnerz",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time spent serving HTTP requests, labeled by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "code"})

	cacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "runnerz",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Run cache lookups grouped by result (hit, miss, error).",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(runPersistGauge, runWritesCounter, httpRequests, httpDuration, cacheLookups)
}

// RecordRunPersisted updates the persistence watermark gauge and write counter.
func RecordRunPersisted(op string, ts time.Time) {
	runWritesCounter.WithLabelValues(op).Inc()
	if ts.IsZero() {
		return
	}
	runPersistGauge.Set(float64(ts.Unix()))
}

// RecordCacheLookup counts a run cache lookup outcome.
func RecordCacheLookup(result string) {
	cacheLookups.WithLabelValues(result).Inc()
}

// InstrumentRoute wraps a route handler with request count and latency collectors.
func InstrumentRoute(route string, next http.Handler) http.Handler {
	labels := prometheus.Labels{"route": route}
	counted := promhttp.InstrumentHandlerCounter(httpRequests.MustCurryWith(labels), next)
	return promhttp.InstrumentHandlerDuration(httpDuration.MustCurryWith(labels), counted)
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
