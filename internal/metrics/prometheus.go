package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector backed by Prometheus.
//
// Metrics are registered lazily on first use so constructing a collector
// that is never exercised leaves the registry untouched.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	experimentsCreated  *prometheus.CounterVec
	assignments         *prometheus.CounterVec
	conversionCalls     *prometheus.CounterVec
	conversionsScored   *prometheus.CounterVec
	conversionsRejected *prometheus.CounterVec
	operationLatency    *prometheus.HistogramVec
}

var _ Collector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Prometheus metrics namespace (defaults to "bingo" if empty)
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "bingo"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.experimentsCreated = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "experiments_created_total",
			Help:      "Total experiments created through ab_test.",
		}, []string{"experiment"})

		p.assignments = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "assignments_total",
			Help:      "Total ab_test answers by result (committed, existing, retired).",
		}, []string{"experiment", "result"})

		p.conversionCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "conversion_calls_total",
			Help:      "Total bingo calls that found at least one declaring experiment.",
		}, []string{"conversion"})

		p.conversionsScored = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "conversions_scored_total",
			Help:      "Total conversion events recorded against experiments.",
		}, []string{"conversion"})

		p.conversionsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "conversions_rejected_total",
			Help:      "Total bingo calls rejected by reason (invalid, undeclared).",
		}, []string{"reason"})

		p.operationLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Latency of engine operations in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms .. ~1s
		}, []string{"op", "result"})

		p.reg.MustRegister(p.experimentsCreated)
		p.reg.MustRegister(p.assignments)
		p.reg.MustRegister(p.conversionCalls)
		p.reg.MustRegister(p.conversionsScored)
		p.reg.MustRegister(p.conversionsRejected)
		p.reg.MustRegister(p.operationLatency)
	})
}

// RecordExperimentCreated increments the created counter for experiment.
func (p *PrometheusCollector) RecordExperimentCreated(experiment string) {
	p.ensureRegistered()
	p.experimentsCreated.WithLabelValues(experiment).Inc()
}

// RecordAssignment increments the assignment counter.
func (p *PrometheusCollector) RecordAssignment(experiment, result string) {
	p.ensureRegistered()
	p.assignments.WithLabelValues(experiment, result).Inc()
}

// RecordConversion counts the call and adds the scored experiments.
func (p *PrometheusCollector) RecordConversion(conversion string, scored int) {
	p.ensureRegistered()
	p.conversionCalls.WithLabelValues(conversion).Inc()
	p.conversionsScored.WithLabelValues(conversion).Add(float64(scored))
}

// RecordConversionRejected increments the rejection counter.
func (p *PrometheusCollector) RecordConversionRejected(reason string) {
	p.ensureRegistered()
	p.conversionsRejected.WithLabelValues(reason).Inc()
}

// ObserveOperation observes operation latency.
func (p *PrometheusCollector) ObserveOperation(op, result string, seconds float64) {
	p.ensureRegistered()
	p.operationLatency.WithLabelValues(op, result).Observe(seconds)
}
