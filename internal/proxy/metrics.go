package proxy

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the proxy handler.
type Metrics struct {
	errorsTotal  *prometheus.CounterVec
	requestBytes prometheus.Histogram
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton proxy metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			errorsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "gateway",
					Subsystem: "proxy",
					Name:      "errors_total",
					Help:      "Total number of requests answered with a gateway error",
				},
				[]string{"error_type"},
			),
			requestBytes: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: "gateway",
					Subsystem: "proxy",
					Name:      "request_body_bytes",
					Help:      "Size of buffered request bodies",
					Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
				},
			),
		}
	})
	return metricsInstance
}

// MustRegister registers the proxy metrics with the given registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.errorsTotal,
		m.requestBytes,
	)
}
