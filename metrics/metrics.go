// Package metrics provides Prometheus observability for spot checks and
// policy decisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds every collector. A nil *Metrics is a no-op.
type Metrics struct {
	// Policy decisions by final effect and combining algorithm
	Decisions *prometheus.CounterVec

	// Evaluation latency including every policy in the set
	EvaluateLatency prometheus.Histogram

	// Counts and skips recorded, by entry kind and resulting item status
	CountsRecorded *prometheus.CounterVec

	// Absolute value impact of completed spot checks
	VarianceValue prometheus.Counter

	// Batch lifecycle transitions by target status
	BatchTransitions *prometheus.CounterVec

	// Open batches past their due date, set by the overdue monitor
	OverdueBatches prometheus.Gauge

	gatherer prometheus.Gatherer
}

// New registers all collectors with reg. Pass a fresh prometheus.Registry
// per process (or per test).
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Decisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_policy_decisions_total",
			Help: "Total policy decisions by final effect and algorithm",
		}, []string{"effect", "algorithm"}),

		EvaluateLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ops_policy_evaluate_duration_seconds",
			Help:    "Duration of a full policy set evaluation",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}),

		CountsRecorded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_spot_check_entries_total",
			Help: "Count entries recorded by kind and item status",
		}, []string{"kind", "status"}), // kind: "count", "skip"

		VarianceValue: factory.NewCounter(prometheus.CounterOpts{
			Name: "ops_spot_check_variance_value_total",
			Help: "Sum of absolute variance value over completed spot checks",
		}),

		BatchTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ops_spot_check_transitions_total",
			Help: "Spot check lifecycle transitions by resulting status",
		}, []string{"status"}),

		OverdueBatches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ops_spot_checks_overdue",
			Help: "Open spot checks past their due date",
		}),

		gatherer: reg,
	}
}

// ObserveDecision records one evaluation.
func (m *Metrics) ObserveDecision(effect, algorithm string, d time.Duration) {
	if m != nil {
		m.Decisions.WithLabelValues(effect, algorithm).Inc()
		m.EvaluateLatency.Observe(d.Seconds())
	}
}

// IncrementEntry records a count or skip.
func (m *Metrics) IncrementEntry(kind, status string) {
	if m != nil {
		m.CountsRecorded.WithLabelValues(kind, status).Inc()
	}
}

// IncrementTransition records a batch reaching status.
func (m *Metrics) IncrementTransition(status string) {
	if m != nil {
		m.BatchTransitions.WithLabelValues(status).Inc()
	}
}

// AddVarianceValue adds a completed batch's variance value.
func (m *Metrics) AddVarianceValue(v decimal.Decimal) {
	if m != nil && v.IsPositive() {
		m.VarianceValue.Add(v.InexactFloat64())
	}
}

// SetOverdue sets the number of overdue batches.
func (m *Metrics) SetOverdue(n int) {
	if m != nil {
		m.OverdueBatches.Set(float64(n))
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
