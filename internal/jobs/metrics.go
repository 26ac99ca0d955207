// Package jobmetrics instruments background task handlers.
package jobmetrics

import (
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcomes recorded on muistot_jobs_total.
const (
	OutcomeOK      = "ok"
	OutcomeRetry   = "retry"
	OutcomeDropped = "dropped"
)

// Metrics holds the per task type series. A nil Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics registers the job series on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muistot",
			Name:      "jobs_total",
			Help:      "Handled tasks by type and outcome (ok, retry or dropped).",
		}, []string{"job", "outcome"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "muistot",
			Name:      "jobs_failures_total",
			Help:      "Handler errors by task type, whether or not asynq retries them.",
		}, []string{"job"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "muistot",
			Name:      "job_duration_seconds",
			Help:      "Wall time spent inside a task handler.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 7),
		}, []string{"job"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "muistot",
			Name:      "jobs_last_success_timestamp_seconds",
			Help:      "Unix time of the most recent successful run per task type.",
		}, []string{"job"}),
	}
}

// Observe runs fn as one execution of job and returns its error unchanged.
// Errors wrapping asynq.SkipRetry count as dropped, any other as retry.
func (m *Metrics) Observe(job string, fn func() error) error {
	if m == nil {
		return fn()
	}
	began := time.Now()
	err := fn()
	m.duration.WithLabelValues(job).Observe(time.Since(began).Seconds())

	switch {
	case err == nil:
		m.runs.WithLabelValues(job, OutcomeOK).Inc()
		m.lastSuccess.WithLabelValues(job).SetToCurrentTime()
	case errors.Is(err, asynq.SkipRetry):
		m.failures.WithLabelValues(job).Inc()
		m.runs.WithLabelValues(job, OutcomeDropped).Inc()
	default:
		m.failures.WithLabelValues(job).Inc()
		m.runs.WithLabelValues(job, OutcomeRetry).Inc()
	}
	return err
}

// Failures returns the failure counter of job.
func (m *Metrics) Failures(job string) prometheus.Counter {
	return m.failures.WithLabelValues(job)
}

// Runs returns the counter of job for one outcome.
func (m *Metrics) Runs(job, outcome string) prometheus.Counter {
	return m.runs.WithLabelValues(job, outcome)
}
