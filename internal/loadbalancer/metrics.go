package loadbalancer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for endpoint selection.
type Metrics struct {
	selectionsTotal *prometheus.CounterVec
	inflight        *prometheus.GaugeVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton load balancer metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			selectionsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gateway",
					Subsystem: "loadbalancer",
					Name:      "selections_total",
					Help:      "Total number of endpoint selections by route and strategy",
				},
				[]string{"route", "strategy"},
			),
			inflight: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Namespace: "gateway",
					Subsystem: "loadbalancer",
					Name:      "inflight_requests",
					Help:      "Outstanding least-connection requests by route and endpoint",
				},
				[]string{"route", "endpoint"},
			),
		}
	})
	return metricsInstance
}

// MustRegister registers the collectors with registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(m.selectionsTotal, m.inflight)
}
