package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheOperation identifies the cache method being instrumented.
type CacheOperation string

const (
	// CacheOperationGet records cache lookups.
	CacheOperationGet CacheOperation = "get"
	// CacheOperationSet records cache writes.
	CacheOperationSet CacheOperation = "set"
	// CacheOperationInvalidate records explicit invalidations.
	CacheOperationInvalidate CacheOperation = "invalidate"
)

// CacheOutcome captures the result of a cache operation.
type CacheOutcome string

const (
	// CacheHit indicates a lookup reused a cached value.
	CacheHit CacheOutcome = "hit"
	// CacheMiss indicates no live entry was present.
	CacheMiss CacheOutcome = "miss"
	// CacheStored indicates a write was persisted.
	CacheStored CacheOutcome = "stored"
	// CacheDropped indicates an invalidation completed.
	CacheDropped CacheOutcome = "dropped"
	// CacheError indicates the backing store failed; the cache fails open so
	// the error only ever shows up here and in logs.
	CacheError CacheOutcome = "error"
)

// Recorder publishes Prometheus metrics for upstream calls, cache traffic,
// and schedule runs.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	upstreamRequests *prometheus.CounterVec
	upstreamRetries  *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
	cacheLatency    *prometheus.HistogramVec

	scheduleRuns *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a
// dedicated registry is created so multiple recorders can coexist without
// conflicting with the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	upstreamRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shufflr",
		Subsystem: "upstream",
		Name:      "requests_total",
		Help:      "Completed upstream API calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	upstreamRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shufflr",
		Subsystem: "upstream",
		Name:      "retries_total",
		Help:      "Retried upstream attempts by operation and failure kind.",
	}, []string{"operation", "kind"})

	upstreamLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shufflr",
		Subsystem: "upstream",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for upstream API calls, retries included.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation", "outcome"})

	cacheOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shufflr",
		Subsystem: "cache",
		Name:      "operations_total",
		Help:      "Cache operations by kind and result.",
	}, []string{"operation", "result"})

	cacheLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "shufflr",
		Subsystem: "cache",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for cache operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	scheduleRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shufflr",
		Subsystem: "schedule",
		Name:      "runs_total",
		Help:      "Schedule executions by schedule name and outcome.",
	}, []string{"schedule", "outcome"})

	reg.MustRegister(upstreamRequests, upstreamRetries, upstreamLatency, cacheOperations, cacheLatency, scheduleRuns)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:         reg,
		handler:          handler,
		upstreamRequests: upstreamRequests,
		upstreamRetries:  upstreamRetries,
		upstreamLatency:  upstreamLatency,
		cacheOperations:  cacheOperations,
		cacheLatency:     cacheLatency,
		scheduleRuns:     scheduleRuns,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveUpstream records a completed upstream call. Outcome is "ok" or the
// failure kind the call surfaced.
func (r *Recorder) ObserveUpstream(operation, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	op := normalizeLabel(operation)
	out := normalizeLabel(outcome)
	r.upstreamRequests.WithLabelValues(op, out).Inc()
	r.upstreamLatency.WithLabelValues(op, out).Observe(duration.Seconds())
}

// ObserveUpstreamRetry counts one retried attempt.
func (r *Recorder) ObserveUpstreamRetry(operation, kind string) {
	if r == nil {
		return
	}
	r.upstreamRetries.WithLabelValues(normalizeLabel(operation), normalizeLabel(kind)).Inc()
}

// ObserveCache records one cache operation.
func (r *Recorder) ObserveCache(operation CacheOperation, result CacheOutcome, duration time.Duration) {
	if r == nil {
		return
	}
	opLabel := string(operation)
	if opLabel == "" {
		opLabel = string(CacheOperationGet)
	}
	resLabel := normalizeLabel(string(result))
	r.cacheOperations.WithLabelValues(opLabel, resLabel).Inc()
	r.cacheLatency.WithLabelValues(opLabel, resLabel).Observe(duration.Seconds())
}

// ObserveScheduleRun records one schedule execution.
func (r *Recorder) ObserveScheduleRun(schedule, outcome string) {
	if r == nil {
		return
	}
	r.scheduleRuns.WithLabelValues(normalizeLabel(schedule), normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
