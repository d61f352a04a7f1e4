// Package metrics exposes Prometheus collectors for the revalidation service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	isrCyclesTotal        *prometheus.CounterVec
	isrPathsTotal         *prometheus.CounterVec
	isrProbeFailuresTotal prometheus.Counter
	isrCycleDuration      prometheus.Histogram
	visitsRecordedTotal   prometheus.Counter
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec

	once sync.Once
)

// Cycle outcomes reported to ObserveCycle.
const (
	CycleCompleted = "completed"
	CycleAborted   = "aborted"
)

// Path outcomes reported to ObservePath.
const (
	PathSuccess = "success"
	PathFailure = "failure"
)

// Init registers the Prometheus collectors. It is safe to call multiple times.
func Init() {
	once.Do(func() {
		isrCyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vanblog_isr_cycles_total",
				Help: "Total revalidation cycles, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		isrPathsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vanblog_isr_paths_total",
				Help: "Total per-path revalidation attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		isrProbeFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vanblog_isr_probe_failures_total",
				Help: "Total renderer liveness probes that failed.",
			},
		)
		isrCycleDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "vanblog_isr_cycle_duration_seconds",
				Help:    "Wall time of completed revalidation cycles.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		)
		visitsRecordedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "vanblog_visits_recorded_total",
				Help: "Total page visits recorded by the view-count store.",
			},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vanblog_http_requests_total",
				Help: "Total HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)
		httpRequestDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vanblog_http_request_duration_seconds",
				Help:    "HTTP request latency, labeled by method.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		)
	})
}

// ObserveCycle records the end of a revalidation cycle.
func ObserveCycle(outcome string, dur time.Duration) {
	if isrCyclesTotal == nil {
		return
	}
	isrCyclesTotal.WithLabelValues(outcome).Inc()
	if outcome == CycleCompleted {
		isrCycleDuration.Observe(dur.Seconds())
	}
}

// ObservePath records one per-path revalidation outcome.
func ObservePath(outcome string) {
	if isrPathsTotal == nil {
		return
	}
	isrPathsTotal.WithLabelValues(outcome).Inc()
}

// ObserveProbeFailure records a failed renderer liveness probe.
func ObserveProbeFailure() {
	if isrProbeFailuresTotal == nil {
		return
	}
	isrProbeFailuresTotal.Inc()
}

// ObserveVisit records one recorded page visit.
func ObserveVisit() {
	if visitsRecordedTotal == nil {
		return
	}
	visitsRecordedTotal.Inc()
}

// Middleware instruments HTTP handlers with request counters and latency.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		if httpRequestsTotal != nil {
			httpRequestsTotal.WithLabelValues(r.Method, strconv.Itoa(rw.status)).Inc()
			httpRequestDuration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
		}
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
