// Package metrics holds the Prometheus collectors for the decision service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all collectors, registered on a private registry so tests
// can build as many instances as they like.
type Metrics struct {
	registry *prometheus.Registry

	VerdictsTotal         *prometheus.CounterVec
	AttackTypesTotal      *prometheus.CounterVec
	RuleFlagsTotal        *prometheus.CounterVec
	SchemaErrorsTotal     prometheus.Counter
	ClassifierErrorsTotal *prometheus.CounterVec
	CatalogClampsTotal    prometheus.Counter
	SinkErrorsTotal       *prometheus.CounterVec
	DecisionLatency       *prometheus.HistogramVec
}

// NewMetrics creates the collectors plus Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		VerdictsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netflow_verdicts_total",
			Help: "Binary verdicts by label and decision source",
		}, []string{"label", "decision_source"}),
		AttackTypesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netflow_attack_types_total",
			Help: "Multiclass verdicts by attack type",
		}, []string{"attack_type"}),
		RuleFlagsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netflow_rule_flags_total",
			Help: "Suspicion flags raised by the rule engine",
		}, []string{"flag"}),
		SchemaErrorsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "netflow_schema_errors_total",
			Help: "Records rejected for missing or malformed fields",
		}),
		ClassifierErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netflow_classifier_errors_total",
			Help: "Classifier failures and contract violations",
		}, []string{"model"}),
		CatalogClampsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "netflow_catalog_clamps_total",
			Help: "Multiclass indices clamped because the label catalog is shorter than the distribution",
		}),
		SinkErrorsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "netflow_sink_errors_total",
			Help: "Verdict sink delivery failures",
		}, []string{"sink"}),
		DecisionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "netflow_decision_seconds",
			Help:    "End-to-end decision latency per operation",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5},
		}, []string{"operation"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveVerdict records one binary verdict and its flags.
func (m *Metrics) ObserveVerdict(label, source string, flags []string) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(label, source).Inc()
	for _, f := range flags {
		m.RuleFlagsTotal.WithLabelValues(f).Inc()
	}
}

// ObserveAttackType records one multiclass verdict.
func (m *Metrics) ObserveAttackType(attackType string, clamped bool) {
	if m == nil {
		return
	}
	m.AttackTypesTotal.WithLabelValues(attackType).Inc()
	if clamped {
		m.CatalogClampsTotal.Inc()
	}
}

// IncSchemaErrors counts a rejected record.
func (m *Metrics) IncSchemaErrors() {
	if m == nil {
		return
	}
	m.SchemaErrorsTotal.Inc()
}

// IncClassifierErrors counts a classifier failure.
func (m *Metrics) IncClassifierErrors(model string) {
	if m == nil {
		return
	}
	m.ClassifierErrorsTotal.WithLabelValues(model).Inc()
}

// IncSinkErrors counts a failed verdict delivery.
func (m *Metrics) IncSinkErrors(sink string) {
	if m == nil {
		return
	}
	m.SinkErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveLatency records how long an operation took since start.
func (m *Metrics) ObserveLatency(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.DecisionLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
