// Package jobmetrics instruments background job runs.
package jobmetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	affected    *prometheus.CounterVec
	lastSuccess *prometheus.GaugeVec
	now         func() time.Time
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the collectors with registerer. A nil registerer
// shares one set registered with the Prometheus default registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = register(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return register(registerer)
}

func register(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pondok_jobs_total",
			Help: "Job runs by task type and outcome.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pondok_job_duration_seconds",
			Help:    "Job run duration.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		affected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pondok_job_affected_total",
			Help: "Items touched by jobs, e.g. expired sessions or converged tables.",
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pondok_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}, []string{"job"}),
		now: time.Now,
	}
	registerer.MustRegister(m.runs, m.duration, m.affected, m.lastSuccess)
	return m
}

// Run measures one execution of job.
type Run struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts measuring a run of job.
func (m *Metrics) Track(job string) *Run {
	r := &Run{metrics: m, job: job, start: time.Now()}
	if m != nil {
		r.start = m.now()
	}
	return r
}

// End records the outcome and returns err unchanged, so handlers can
// `return run.End(err)`.
func (r *Run) End(err error) error {
	m := r.metrics
	if m == nil {
		return err
	}
	now := m.now()
	m.duration.WithLabelValues(r.job).Observe(now.Sub(r.start).Seconds())
	if err != nil {
		m.runs.WithLabelValues(r.job, "failure").Inc()
		return err
	}
	m.runs.WithLabelValues(r.job, "success").Inc()
	m.lastSuccess.WithLabelValues(r.job).Set(float64(now.Unix()))
	return nil
}

// AddAffected adds count to the job's affected-items counter.
func (m *Metrics) AddAffected(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.affected.WithLabelValues(job).Add(float64(count))
}
