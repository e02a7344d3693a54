package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics tracks outbound call dispatch and outcome counts.
type CallMetrics struct {
	dispatched *prometheus.CounterVec
	outcomes   *prometheus.CounterVec
}

// NewCallMetrics registers the call counters on the provided registerer.
func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	if reg == nil {
		return &CallMetrics{}
	}
	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "calls_dispatched_total",
		Help: "Outbound calls grouped by dispatch result.",
	}, []string{"result"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "call_outcomes_total",
		Help: "Recorded call outcomes grouped by classification.",
	}, []string{"outcome"})
	reg.MustRegister(dispatched, outcomes)
	return &CallMetrics{dispatched: dispatched, outcomes: outcomes}
}

// IncDispatched counts one dispatch attempt with its result label
// (placed, skipped, failed).
func (c *CallMetrics) IncDispatched(result string) {
	if c == nil || c.dispatched == nil {
		return
	}
	c.dispatched.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncOutcome counts one recorded outcome (successful, retry, final).
func (c *CallMetrics) IncOutcome(outcome string) {
	if c == nil || c.outcomes == nil {
		return
	}
	c.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}
