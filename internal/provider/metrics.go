package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports dispatch-level Prometheus collectors. A nil *Metrics is
// valid and records nothing, so the manager works without a registry.
type Metrics struct {
	attempts           *prometheus.CounterVec
	failovers          prometheus.Counter
	rateRejections     *prometheus.CounterVec
	circuitTransitions *prometheus.CounterVec
	tokens             *prometheus.CounterVec
	inflight           *prometheus.GaugeVec
}

// NewMetrics registers and returns the dispatch collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gantry",
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Adapter call attempts by provider and outcome.",
		}, []string{"provider", "outcome"}),
		failovers: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gantry",
			Subsystem: "dispatch",
			Name:      "failovers_total",
			Help:      "Chain advancements past a failed or skipped provider.",
		}),
		rateRejections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gantry",
			Subsystem: "ratelimit",
			Name:      "rejections_total",
			Help:      "Admission rejections by provider.",
		}, []string{"provider"}),
		circuitTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gantry",
			Subsystem: "circuit",
			Name:      "transitions_total",
			Help:      "Circuit breaker transitions by provider and target state.",
		}, []string{"provider", "to"}),
		tokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gantry",
			Subsystem: "usage",
			Name:      "tokens_total",
			Help:      "Tokens consumed by provider and kind.",
		}, []string{"provider", "kind"}),
		inflight: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "gantry",
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Adapter calls currently in flight by provider.",
		}, []string{"provider"}),
	}
}

func (m *Metrics) recordAttempt(provider, outcome string) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) recordFailover() {
	if m == nil {
		return
	}
	m.failovers.Inc()
}

func (m *Metrics) recordRateRejection(provider string) {
	if m == nil {
		return
	}
	m.rateRejections.WithLabelValues(provider).Inc()
}

func (m *Metrics) recordCircuitTransition(provider string, to CircuitState) {
	if m == nil {
		return
	}
	m.circuitTransitions.WithLabelValues(provider, to.String()).Inc()
}

func (m *Metrics) recordUsage(provider string, usage *TokenUsage) {
	if m == nil || usage == nil {
		return
	}
	m.tokens.WithLabelValues(provider, "prompt").Add(float64(usage.PromptTokens))
	m.tokens.WithLabelValues(provider, "completion").Add(float64(usage.CompletionTokens))
}

func (m *Metrics) inflightDelta(provider string, delta float64) {
	if m == nil {
		return
	}
	m.inflight.WithLabelValues(provider).Add(delta)
}
