package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsCreated      = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_jobs_created_total", Help: "Jobs accepted for processing"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_jobs_completed_total", Help: "Jobs that reached completed"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_jobs_failed_total", Help: "Jobs that reached failed"})
	JobsStuck        = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_jobs_stuck_total", Help: "Jobs whose failure could not be persisted"})
	WebhookFailures  = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_webhook_failures_total", Help: "Webhook deliveries that gave up"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "transcription_rate_limit_rejects_total", Help: "Job creations rejected by the rate limiter"})
	InFlightGauge    = prometheus.NewGauge(prometheus.GaugeOpts{Name: "transcription_jobs_inflight", Help: "Pipelines currently running"})
	StageDuration    = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transcription_stage_duration_seconds",
		Help:    "Time spent in each pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 180, 600},
	}, []string{"stage"})
)

// Handler exposes /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsCreated,
			JobsCompleted,
			JobsFailed,
			JobsStuck,
			WebhookFailures,
			RateLimitRejects,
			InFlightGauge,
			StageDuration,
		)
	})
	return promhttp.Handler()
}
