package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector registers and records the pipeline's Prometheus metrics. A nil
// *Collector is a valid no-op, so instrumentation points never need nil
// checks at call sites.
type Collector struct {
	registry *prometheus.Registry

	eventsIngested         prometheus.Counter
	eventsEvaluated        *prometheus.CounterVec
	violationsCreated      *prometheus.CounterVec
	duplicatesSuppressed   prometheus.Counter
	signingFailures        *prometheus.CounterVec
	immutabilityRejections *prometheus.CounterVec
	evaluationDuration     prometheus.Histogram
}

// Config contains metrics configuration.
type Config struct {
	// Namespace prefixes every metric name. Defaults to "warden".
	Namespace string

	// EvaluationBuckets are histogram buckets for evaluation latency in
	// seconds. Defaults cover sub-millisecond rule checks up to slow
	// multi-policy batches.
	EvaluationBuckets []float64
}

// NewCollector creates a collector and registers its metrics with the given
// registry. If registry is nil a fresh one is created.
func NewCollector(cfg Config, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "warden"
	}
	if len(cfg.EvaluationBuckets) == 0 {
		cfg.EvaluationBuckets = []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0}
	}

	c := &Collector{
		registry: registry,
		eventsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "events_ingested_total",
			Help:      "Telemetry events appended to the audit log.",
		}),
		eventsEvaluated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "events_evaluated_total",
			Help:      "Events run through policy evaluation, by outcome.",
		}, []string{"status"}),
		violationsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "violations_created_total",
			Help:      "Violations synthesized, by severity.",
		}, []string{"severity"}),
		duplicatesSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "violation_duplicates_suppressed_total",
			Help:      "Violation creations absorbed by the dedup key.",
		}),
		signingFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "signing_failures_total",
			Help:      "Event signing failures, by provider.",
		}, []string{"provider"}),
		immutabilityRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Name:      "immutability_rejections_total",
			Help:      "Writes refused by the immutability guard, by entity.",
		}, []string{"entity"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Wall time of a single event evaluation across all policies.",
			Buckets:   cfg.EvaluationBuckets,
		}),
	}

	registry.MustRegister(
		c.eventsIngested,
		c.eventsEvaluated,
		c.violationsCreated,
		c.duplicatesSuppressed,
		c.signingFailures,
		c.immutabilityRejections,
		c.evaluationDuration,
	)
	return c
}

// RecordIngested counts an event appended to the log.
func (c *Collector) RecordIngested() {
	if c == nil {
		return
	}
	c.eventsIngested.Inc()
}

// RecordEvaluated counts a completed evaluation with its outcome
// ("clean", "violation", "error").
func (c *Collector) RecordEvaluated(status string) {
	if c == nil {
		return
	}
	c.eventsEvaluated.WithLabelValues(status).Inc()
}

// RecordViolation counts a newly created violation.
func (c *Collector) RecordViolation(severity string) {
	if c == nil {
		return
	}
	c.violationsCreated.WithLabelValues(severity).Inc()
}

// RecordDuplicateSuppressed counts a violation creation absorbed by dedup.
func (c *Collector) RecordDuplicateSuppressed() {
	if c == nil {
		return
	}
	c.duplicatesSuppressed.Inc()
}

// RecordSigningFailure counts a failed signing attempt.
func (c *Collector) RecordSigningFailure(provider string) {
	if c == nil {
		return
	}
	c.signingFailures.WithLabelValues(provider).Inc()
}

// RecordImmutabilityRejection counts a refused mutation ("event",
// "evidence", "violation").
func (c *Collector) RecordImmutabilityRejection(entity string) {
	if c == nil {
		return
	}
	c.immutabilityRejections.WithLabelValues(entity).Inc()
}

// ObserveEvaluation records the latency of one event evaluation.
func (c *Collector) ObserveEvaluation(d time.Duration) {
	if c == nil {
		return
	}
	c.evaluationDuration.Observe(d.Seconds())
}

// Registry returns the Prometheus registry behind the collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler serving the metrics in the Prometheus
// exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
