package qos

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the governor.
type Metrics struct {
	state            *prometheus.GaugeVec
	transitionsTotal *prometheus.CounterVec
	rejectedTotal    *prometheus.CounterVec
	timeoutsTotal    *prometheus.CounterVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton QoS metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			state: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "gateway",
					Subsystem: "qos",
					Name:      "circuit_state",
					Help:      "Current state of the circuit (0=closed, 1=open, 2=half-open)",
				},
				[]string{"route", "endpoint"},
			),
			transitionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gateway",
					Subsystem: "qos",
					Name:      "circuit_state_changes_total",
					Help:      "Total number of circuit state changes",
				},
				[]string{"route", "from", "to"},
			),
			rejectedTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gateway",
					Subsystem: "qos",
					Name:      "circuit_rejected_total",
					Help:      "Total number of calls rejected by an open circuit",
				},
				[]string{"route"},
			),
			timeoutsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gateway",
					Subsystem: "qos",
					Name:      "timeouts_total",
					Help:      "Total number of downstream calls abandoned on timeout",
				},
				[]string{"route"},
			),
		}
	})
	return metricsInstance
}

// MustRegister registers the collectors with registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(m.state, m.transitionsTotal, m.rejectedTotal, m.timeoutsTotal)
}
