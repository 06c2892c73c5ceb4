package dispatch

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for dispatch outcomes.
type Metrics struct {
	outcomesTotal    *prometheus.CounterVec
	downstreamTiming *prometheus.HistogramVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton dispatch metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			outcomesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gateway",
					Subsystem: "dispatch",
					Name:      "outcomes_total",
					Help:      "Total number of dispatched requests by route and outcome",
				},
				[]string{"route", "outcome"},
			),
			downstreamTiming: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "gateway",
					Subsystem: "dispatch",
					Name:      "downstream_duration_seconds",
					Help:      "Duration of downstream calls including the governor",
					Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
				},
				[]string{"route"},
			),
		}
	})
	return metricsInstance
}

// MustRegister registers the collectors with registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(m.outcomesTotal, m.downstreamTiming)
}
