package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/genecraft/genecraft/internal/models"
	"github.com/genecraft/genecraft/internal/store"
)

// Registry wraps the Prometheus registry with the service's collectors
type Registry struct {
	registry *prometheus.Registry

	jobsSubmitted *prometheus.CounterVec
	jobsCompleted *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

// NewRegistry creates the metrics registry. The jobs-by-state gauge is
// collected live from the store on every scrape.
func NewRegistry(st store.Store, stagedCount, artifactCount func() int) *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
		jobsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genecraft_jobs_submitted_total",
			Help: "Jobs accepted for execution, by analysis kind",
		}, []string{"kind"}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "genecraft_jobs_completed_total",
			Help: "Jobs reaching a terminal state, by kind and outcome",
		}, []string{"kind", "status"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "genecraft_job_duration_seconds",
			Help:    "Wall-clock duration of job execution",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"kind"}),
	}

	reg.MustRegister(r.jobsSubmitted, r.jobsCompleted, r.jobDuration)
	reg.MustRegister(&stateCollector{
		store:         st,
		stagedCount:   stagedCount,
		artifactCount: artifactCount,
		jobsDesc: prometheus.NewDesc("genecraft_jobs_in_state",
			"Current number of jobs per state", []string{"state"}, nil),
		stagedDesc: prometheus.NewDesc("genecraft_staged_uploads",
			"Current number of live staged uploads", nil, nil),
		artifactsDesc: prometheus.NewDesc("genecraft_artifacts",
			"Current number of live artifacts", nil, nil),
	})
	return r
}

// RecordJobSubmitted counts an accepted submission
func (r *Registry) RecordJobSubmitted(kind models.Kind) {
	r.jobsSubmitted.WithLabelValues(string(kind)).Inc()
}

// RecordJobCompleted counts a terminal transition and its duration
func (r *Registry) RecordJobCompleted(kind models.Kind, status models.JobStatus, duration time.Duration) {
	r.jobsCompleted.WithLabelValues(string(kind), string(status)).Inc()
	r.jobDuration.WithLabelValues(string(kind)).Observe(duration.Seconds())
}

// Handler returns the /metrics HTTP handler
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// stateCollector reads live state from the store on each scrape
type stateCollector struct {
	store         store.Store
	stagedCount   func() int
	artifactCount func() int
	jobsDesc      *prometheus.Desc
	stagedDesc    *prometheus.Desc
	artifactsDesc *prometheus.Desc
}

func (c *stateCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobsDesc
	ch <- c.stagedDesc
	ch <- c.artifactsDesc
}

func (c *stateCollector) Collect(ch chan<- prometheus.Metric) {
	counts, err := c.store.CountByStatus()
	if err == nil {
		for _, state := range []models.JobStatus{
			models.JobStatusQueued, models.JobStatusRunning,
			models.JobStatusFinished, models.JobStatusFailed,
		} {
			ch <- prometheus.MustNewConstMetric(c.jobsDesc,
				prometheus.GaugeValue, float64(counts[state]), string(state))
		}
	}
	if c.stagedCount != nil {
		ch <- prometheus.MustNewConstMetric(c.stagedDesc,
			prometheus.GaugeValue, float64(c.stagedCount()))
	}
	if c.artifactCount != nil {
		ch <- prometheus.MustNewConstMetric(c.artifactsDesc,
			prometheus.GaugeValue, float64(c.artifactCount()))
	}
}
