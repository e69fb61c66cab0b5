package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors the Orchestrator updates on every
// JobRun completion, registered on a private prometheus.Registry rather
// than the global default one.
type Metrics struct {
	registry *prometheus.Registry

	jobRuns          *prometheus.CounterVec
	jobRunDuration   *prometheus.HistogramVec
	jobRunTokens     *prometheus.CounterVec
	jobRunSegments   *prometheus.HistogramVec
	jobRunWorkers    *prometheus.GaugeVec
	jobRunEntities   *prometheus.CounterVec
}

// NewMetrics registers the Orchestrator's collectors against a fresh
// registry (not the global default, so tests can build independent
// instances without collector-already-registered panics).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chipper_job_runs_total",
			Help: "Completed job runs by job_type and terminal status.",
		}, []string{"job_type", "status"}),
		jobRunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chipper_job_run_duration_seconds",
			Help:    "Wall-clock duration of a job run.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_type"}),
		jobRunTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chipper_job_run_tokens_total",
			Help: "Prompt+completion tokens consumed by a job run.",
		}, []string{"job_type"}),
		jobRunSegments: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "chipper_job_run_segments",
			Help:    "Segment count processed per job run.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}, []string{"job_type"}),
		jobRunWorkers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "chipper_job_run_workers",
			Help: "Worker count used by the most recent job run of this job_type.",
		}, []string{"job_type"}),
		jobRunEntities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chipper_job_run_entities_total",
			Help: "Entities persisted by a job run, by kind.",
		}, []string{"job_type", "kind"}),
	}
	reg.MustRegister(m.jobRuns, m.jobRunDuration, m.jobRunTokens, m.jobRunSegments, m.jobRunWorkers, m.jobRunEntities)
	return m
}

// Registry exposes the underlying prometheus.Registry so cmd/chipper can
// serve it over /metrics if desired.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) recordJobRun(jobType, status string, durationSeconds float64, tokens int, segments int, workers int, entityCounts map[string]int) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(jobType, status).Inc()
	m.jobRunDuration.WithLabelValues(jobType).Observe(durationSeconds)
	m.jobRunTokens.WithLabelValues(jobType).Add(float64(tokens))
	m.jobRunSegments.WithLabelValues(jobType).Observe(float64(segments))
	m.jobRunWorkers.WithLabelValues(jobType).Set(float64(workers))
	for kind, n := range entityCounts {
		m.jobRunEntities.WithLabelValues(jobType, kind).Add(float64(n))
	}
}
