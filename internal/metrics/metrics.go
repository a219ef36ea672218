// Package metrics holds the Prometheus collectors for governance
// transitions and fund releases.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	rejections     *prometheus.CounterVec
	releasedAmount prometheus.Counter
	releases       *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	m := &Metrics{Registry: reg}
	m.transitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bountyline_transitions_total",
			Help: "committed state transitions by entity and target phase",
		},
		[]string{"entity", "to"},
	)
	m.rejections = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bountyline_transition_rejections_total",
			Help: "transitions rejected by a governance rule",
		},
		[]string{"entity", "operation"},
	)
	m.releasedAmount = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "bountyline_released_amount_total",
			Help: "funds released to teams, in smallest currency units",
		},
	)
	m.releases = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bountyline_releases_total",
			Help: "treasury release attempts by result",
		},
		[]string{"status"},
	)
	return m
}

// The methods below are no-ops on a nil receiver so callers may run without metrics.

func (m *Metrics) Transition(entity, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, to).Inc()
}

func (m *Metrics) Rejected(entity, operation string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(entity, operation).Inc()
}

func (m *Metrics) Released(amount uint64) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues("released").Inc()
	m.releasedAmount.Add(float64(amount))
}

func (m *Metrics) ReleaseFailed() {
	if m == nil {
		return
	}
	m.releases.WithLabelValues("failed").Inc()
}
