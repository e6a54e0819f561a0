package metrics

import "github.com/prometheus/client_golang/prometheus"

// OptimizerMetrics counts scheduler evaluations by outcome.
type OptimizerMetrics struct {
	evaluations *prometheus.CounterVec
}

func NewOptimizerMetrics(reg prometheus.Registerer) *OptimizerMetrics {
	if reg == nil {
		return &OptimizerMetrics{}
	}
	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flable_optimizer_evaluations_total",
		Help: "Campaign evaluations by outcome.",
	}, []string{labelOutcome})
	reg.MustRegister(evaluations)
	return &OptimizerMetrics{evaluations: evaluations}
}

func (m *OptimizerMetrics) IncEvaluation(outcome string) {
	if m == nil || m.evaluations == nil {
		return
	}
	m.evaluations.WithLabelValues(normalizeLabel(outcome)).Inc()
}
