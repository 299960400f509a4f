package rules

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for workflow processing. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	processDuration  *prometheus.HistogramVec
	ruleEvaluations  *prometheus.CounterVec
	actionExecutions *prometheus.CounterVec
}

// NewMetrics creates workflow metrics and registers them with reg.
// Returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		processDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workflows",
			Subsystem: "engine",
			Name:      "process_duration_seconds",
			Help:      "Time spent processing a trigger event",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"event"}),

		ruleEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflows",
			Subsystem: "engine",
			Name:      "rule_evaluations_total",
			Help:      "Rule evaluations by result (matched, unmatched, error)",
		}, []string{"event", "result"}),

		actionExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workflows",
			Subsystem: "engine",
			Name:      "action_executions_total",
			Help:      "Workflow actions by kind and result (ok, failed, skipped)",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(m.processDuration, m.ruleEvaluations, m.actionExecutions)
	return m
}

func (m *Metrics) observeProcess(event string, started time.Time) {
	if m == nil {
		return
	}
	m.processDuration.WithLabelValues(event).Observe(time.Since(started).Seconds())
}

func (m *Metrics) ruleEvaluated(event, result string) {
	if m == nil {
		return
	}
	m.ruleEvaluations.WithLabelValues(event, result).Inc()
}

func (m *Metrics) actionExecuted(kind ActionKind, result string) {
	if m == nil {
		return
	}
	m.actionExecutions.WithLabelValues(string(kind), result).Inc()
}
