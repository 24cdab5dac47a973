// Package metrics wires the orchestrator's Prometheus metrics. The metric
// names and label sets are part of the external contract (spec §6.5) and
// must not drift; this package is the single place they're defined.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	jobsQueuedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "downloader_jobs_queued_total",
		Help: "Jobs enqueued, by preset.",
	}, []string{"preset"})

	jobsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "downloader_jobs_started_total",
		Help: "Jobs that began downloading, by preset.",
	}, []string{"preset"})

	jobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "downloader_jobs_completed_total",
		Help: "Jobs that completed successfully, by preset.",
	}, []string{"preset"})

	jobsFailedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "downloader_jobs_failed_total",
		Help: "Jobs that ended failed, by failure reason.",
	}, []string{"reason"})

	jobsPausedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "downloader_jobs_paused_total",
		Help: "Jobs paused, by preset.",
	}, []string{"preset"})

	jobsRetriedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "downloader_jobs_retried_total",
		Help: "Jobs retried, by preset.",
	}, []string{"preset"})

	downloadedBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "downloader_downloaded_bytes_total",
		Help: "Cumulative bytes downloaded across all jobs.",
	})

	activeJobs = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "downloader_active_jobs",
		Help: "Jobs currently admitted into the worker pool.",
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "downloader_queue_depth",
		Help: "Jobs currently queued awaiting admission.",
	})

	jobDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "downloader_job_duration_seconds",
		Help:    "Wall-clock duration of a job from dispatch to terminal state.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	}, []string{"preset", "status"})

	httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "HTTP requests served by the control plane.",
	}, []string{"method", "route", "status"})

	httpRequestDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request handling duration.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})
)

func init() {
	prometheus.MustRegister(
		jobsQueuedTotal, jobsStartedTotal, jobsCompletedTotal, jobsFailedTotal,
		jobsPausedTotal, jobsRetriedTotal, downloadedBytesTotal,
		activeJobs, queueDepth, jobDurationSeconds,
		httpRequestsTotal, httpRequestDurationSeconds,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// MarkQueued increments the queued counter for preset.
func MarkQueued(preset string) { jobsQueuedTotal.WithLabelValues(preset).Inc() }

// MarkStarted increments the started counter for preset.
func MarkStarted(preset string) { jobsStartedTotal.WithLabelValues(preset).Inc() }

// MarkCompleted increments the completed counter for preset.
func MarkCompleted(preset string) { jobsCompletedTotal.WithLabelValues(preset).Inc() }

// MarkFailed increments the failed counter for a classified reason
// (forbidden|network|unavailable|other, per spec §4.3).
func MarkFailed(reason string) { jobsFailedTotal.WithLabelValues(reason).Inc() }

// MarkPaused increments the paused counter for preset.
func MarkPaused(preset string) { jobsPausedTotal.WithLabelValues(preset).Inc() }

// MarkRetried increments the retried counter for preset.
func MarkRetried(preset string) { jobsRetriedTotal.WithLabelValues(preset).Inc() }

// AddDownloadedBytes adds n (clamped to >=0 by the caller) to the cumulative
// bytes counter.
func AddDownloadedBytes(n int64) {
	if n <= 0 {
		return
	}
	downloadedBytesTotal.Add(float64(n))
}

// SetActiveJobs publishes the scheduler's current active-worker count.
func SetActiveJobs(n int) { activeJobs.Set(float64(n)) }

// SetQueueDepth publishes the current queue depth.
func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }

// ObserveJobDuration records how long a job took to reach a terminal status.
func ObserveJobDuration(preset, status string, seconds float64) {
	jobDurationSeconds.WithLabelValues(preset, status).Observe(seconds)
}

// ObserveHTTPRequest records one completed HTTP request.
func ObserveHTTPRequest(method, route, status string, seconds float64) {
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(seconds)
}
