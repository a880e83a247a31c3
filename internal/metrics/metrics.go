// Package metrics exposes Prometheus collectors for the report service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec
	reportRequestsTotal         *prometheus.CounterVec
	reportJobsTotal             *prometheus.CounterVec
	reportJobDurationSeconds    *prometheus.HistogramVec
	reportActiveWorkers         prometheus.Gauge
	reportArtifactBytesTotal    *prometheus.CounterVec
	reportOrphanedRequestsTotal prometheus.Counter
	reportReapedRequestsTotal   prometheus.Counter
	reportRedeliveriesTotal     *prometheus.CounterVec
	reportRateLimitedTotal      prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		reportRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reports_requests_total",
				Help: "Report requests accepted by intake, labeled by report type.",
			},
			[]string{"type"},
		)

		reportJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reports_jobs_total",
				Help: "Generation jobs finished, labeled by report type and terminal status.",
			},
			[]string{"type", "status"},
		)

		reportJobDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reports_job_duration_seconds",
				Help:    "Wall time from Processing to a terminal status.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"type"},
		)

		reportActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "reports_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		reportArtifactBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reports_artifact_bytes_total",
				Help: "Bytes uploaded to the artifact store, labeled by report type.",
			},
			[]string{"type"},
		)

		reportOrphanedRequestsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reports_orphaned_requests_total",
				Help: "Requests persisted as Pending whose job could not be enqueued.",
			},
		)

		reportReapedRequestsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reports_reaped_requests_total",
				Help: "Requests moved from Processing to Error by the stale-processing reaper.",
			},
		)

		reportRedeliveriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reports_redeliveries_total",
				Help: "Deliveries skipped or deferred by the worker, labeled by reason.",
			},
			[]string{"reason"},
		)

		reportRateLimitedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "reports_rate_limited_total",
				Help: "Report creations rejected by the per-class rate limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRequest counts a request accepted by intake.
func ObserveRequest(reportType string) {
	Init()
	reportRequestsTotal.WithLabelValues(reportType).Inc()
}

// ObserveJob records a finished job.
func ObserveJob(reportType, status string, duration time.Duration) {
	Init()
	reportJobsTotal.WithLabelValues(reportType, status).Inc()
	reportJobDurationSeconds.WithLabelValues(reportType).Observe(duration.Seconds())
}

// ObserveArtifactBytes adds uploaded bytes.
func ObserveArtifactBytes(reportType string, n int64) {
	Init()
	if n > 0 {
		reportArtifactBytesTotal.WithLabelValues(reportType).Add(float64(n))
	}
}

// ObserveOrphanedRequest counts a Pending request left without a job.
func ObserveOrphanedRequest() {
	Init()
	reportOrphanedRequestsTotal.Inc()
}

// ObserveReaped adds n reaped requests.
func ObserveReaped(n int) {
	Init()
	reportReapedRequestsTotal.Add(float64(n))
}

// ObserveRedelivery counts a delivery the worker did not execute.
func ObserveRedelivery(reason string) {
	Init()
	reportRedeliveriesTotal.WithLabelValues(reason).Inc()
}

// ObserveRateLimited counts a report creation rejected with 429.
func ObserveRateLimited() {
	Init()
	reportRateLimitedTotal.Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	reportActiveWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	reportActiveWorkers.Dec()
}
