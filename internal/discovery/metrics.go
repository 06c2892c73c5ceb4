package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for service resolution.
type Metrics struct {
	lookupsTotal   *prometheus.CounterVec
	lookupDuration *prometheus.HistogramVec
	endpoints      *prometheus.GaugeVec
}

var (
	metricsInstance *Metrics
	metricsOnce     sync.Once
)

// GetMetrics returns the singleton discovery metrics instance.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = newMetrics()
	})
	return metricsInstance
}

// MustRegister registers the collectors with the registry that backs
// the gateway /metrics endpoint. promauto only registers them with the
// default registry.
func (m *Metrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(m.lookupsTotal, m.lookupDuration, m.endpoints)
}

func newMetrics() *Metrics {
	return &Metrics{
		lookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "gateway",
				Subsystem: "discovery",
				Name:      "lookups_total",
				Help:      "Total number of service lookups by provider and result",
			},
			[]string{"provider", "result"},
		),
		lookupDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "discovery",
				Name:      "lookup_duration_seconds",
				Help:      "Duration of service lookups",
				Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"provider"},
		),
		endpoints: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "discovery",
				Name:      "endpoints",
				Help:      "Number of endpoints returned by the last lookup of a service",
			},
			[]string{"service"},
		),
	}
}

// Instrumented records lookup metrics around a provider.
type Instrumented struct {
	provider string
	next     Resolver
	metrics  *Metrics
}

// Instrument wraps next with lookup metrics labelled provider.
func Instrument(provider string, next Resolver) *Instrumented {
	return &Instrumented{provider: provider, next: next, metrics: GetMetrics()}
}

// Resolve implements Resolver.
func (i *Instrumented) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	start := time.Now()
	eps, err := i.next.Resolve(ctx, service)
	i.metrics.lookupDuration.WithLabelValues(i.provider).Observe(time.Since(start).Seconds())

	result := "success"
	switch {
	case err != nil:
		result = "error"
	case len(eps) == 0:
		result = "empty"
	}
	i.metrics.lookupsTotal.WithLabelValues(i.provider, result).Inc()
	if err == nil {
		i.metrics.endpoints.WithLabelValues(service).Set(float64(len(eps)))
	}
	return eps, err
}
