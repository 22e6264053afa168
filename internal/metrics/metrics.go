// Package metrics exposes optimization runs as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/copyleftdev/nmrmix/internal/optimization"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "nmrmix"

// Metrics records annealing steps, scores and run outcomes on its own
// registry. It is safe for concurrent use by every bucket worker.
type Metrics struct {
	registry *prometheus.Registry

	steps      *prometheus.CounterVec
	score      *prometheus.GaugeVec
	bucketTime *prometheus.HistogramVec
	runs       *prometheus.CounterVec
	activeJobs prometheus.Gauge
}

// New creates the metrics and registers them, together with the Go and
// process collectors, on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "annealing",
			Name:      "steps_total",
			Help:      "Annealing steps evaluated, by bucket, phase and acceptance.",
		}, []string{"bucket", "phase", "accepted"}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "annealing",
			Name:      "score",
			Help:      "Current total overlap score of a bucket.",
		}, []string{"bucket"}),
		bucketTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "annealing",
			Name:      "bucket_duration_seconds",
			Help:      "Wall time spent optimizing one bucket.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"bucket", "status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished optimization runs by status.",
		}, []string{"status"}),
		activeJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Optimization jobs currently running.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{Namespace: namespace}),
		m.steps, m.score, m.bucketTime, m.runs, m.activeJobs,
	)
	return m
}

// ObserveStep counts one annealing step.
func (m *Metrics) ObserveStep(bucket string, phase optimization.Phase, accepted bool) {
	m.steps.WithLabelValues(bucket, string(phase), strconv.FormatBool(accepted)).Inc()
}

// ObserveScore sets the current score of a bucket.
func (m *Metrics) ObserveScore(bucket string, score float64) {
	m.score.WithLabelValues(bucket).Set(score)
}

// ObserveBucket records how long a bucket ran and how it ended.
func (m *Metrics) ObserveBucket(bucket string, status optimization.Status, seconds float64) {
	m.bucketTime.WithLabelValues(bucket, string(status)).Observe(seconds)
}

// JobStarted marks a job as running.
func (m *Metrics) JobStarted() { m.activeJobs.Inc() }

// JobFinished marks a job as ended with status.
func (m *Metrics) JobFinished(status optimization.Status) {
	m.activeJobs.Dec()
	m.runs.WithLabelValues(string(status)).Inc()
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
