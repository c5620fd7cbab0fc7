package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics records run durations and outcomes for the settlement
// worker's jobs. A zero value is a no-op, so the worker can run without a
// registerer in tests.
type WorkerMetrics struct {
	duration *prometheus.HistogramVec
	runs     *prometheus.CounterVec
}

// NewWorkerMetrics registers the worker job metrics on the provided
// registerer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	if reg == nil {
		return &WorkerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "worker_job_duration_seconds",
		Help:    "Duration of settlement worker jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "worker_job_runs_total",
		Help: "Worker job runs partitioned by outcome.",
	}, []string{"job", "outcome"})
	reg.MustRegister(duration, runs)
	return &WorkerMetrics{duration: duration, runs: runs}
}

// ObserveRun records one finished job run.
func (m *WorkerMetrics) ObserveRun(job string, took time.Duration, err error) {
	if m == nil || m.duration == nil || m.runs == nil {
		return
	}
	label := jobLabel(job)
	m.duration.WithLabelValues(label).Observe(took.Seconds())
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.runs.WithLabelValues(label, outcome).Inc()
}

func jobLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
