package cache

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// CacheMetrics holds Prometheus metrics for the response cache.
type CacheMetrics struct {
	hitsTotal         *prometheus.CounterVec
	missesTotal       *prometheus.CounterVec
	evictionsTotal    *prometheus.CounterVec
	sizeGauge         *prometheus.GaugeVec
	operationDuration *prometheus.HistogramVec
	errorsTotal       *prometheus.CounterVec
	purgedTotal       *prometheus.CounterVec
}

var (
	cacheMetricsInstance *CacheMetrics
	cacheMetricsOnce     sync.Once
)

// GetCacheMetrics returns the singleton cache metrics instance.
func GetCacheMetrics() *CacheMetrics {
	cacheMetricsOnce.Do(func() {
		cacheMetricsInstance = newCacheMetrics()
	})
	return cacheMetricsInstance
}

// MustRegister registers all cache collectors with registry.
func (m *CacheMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.hitsTotal,
		m.missesTotal,
		m.evictionsTotal,
		m.sizeGauge,
		m.operationDuration,
		m.errorsTotal,
		m.purgedTotal,
	)
}

// recordPurge counts entries removed by a region clear.
func (m *CacheMetrics) recordPurge(backend, region string, removed int) {
	m.purgedTotal.WithLabelValues(backend, region).Add(float64(removed))
}

func newCacheMetrics() *CacheMetrics {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "response_cache",
			Name:      name,
			Help:      help,
		}, labels)
	}

	return &CacheMetrics{
		hitsTotal:      counter("hits_total", "Cached responses served", "backend"),
		missesTotal:    counter("misses_total", "Lookups that found no fresh entry", "backend"),
		evictionsTotal: counter("evictions_total", "Entries evicted for capacity or expiry", "backend"),
		errorsTotal:    counter("errors_total", "Backend errors by operation", "backend", "operation"),
		purgedTotal:    counter("purged_total", "Entries removed by region clears", "backend", "region"),
		sizeGauge: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "gateway",
				Subsystem: "response_cache",
				Name:      "entries",
				Help:      "Entries currently held by the in-memory backend",
			},
			[]string{"backend"},
		),
		operationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "gateway",
				Subsystem: "response_cache",
				Name:      "operation_duration_seconds",
				Help:      "Duration of cache operations",
				Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1},
			},
			[]string{"backend", "operation"},
		),
	}
}
