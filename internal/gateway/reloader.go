package gateway

import (
	"reflect"
	"sync"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/discovery"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/router"
)

// Publisher publishes compiled route tables.
type Publisher interface {
	Publish(t *router.Table) *router.Table
}

// Reloader turns configurations into published route tables. Reloads
// are serialized; a configuration that does not compile leaves the
// current table in place.
type Reloader struct {
	mu        sync.Mutex
	publisher Publisher
	services  *discovery.Composite
	metrics   *observability.Metrics
	logger    observability.Logger
	current   *config.GatewayConfig
}

// ReloaderOption configures a Reloader.
type ReloaderOption func(*Reloader)

// WithReloaderLogger sets the logger.
func WithReloaderLogger(logger observability.Logger) ReloaderOption {
	return func(r *Reloader) {
		r.logger = logger
	}
}

// WithReloaderMetrics records reloads and table versions.
func WithReloaderMetrics(m *observability.Metrics) ReloaderOption {
	return func(r *Reloader) {
		r.metrics = m
	}
}

// WithServices refreshes the static service set of services on every
// reload.
func WithServices(services *discovery.Composite) ReloaderOption {
	return func(r *Reloader) {
		r.services = services
	}
}

// NewReloader creates a Reloader publishing to publisher.
func NewReloader(publisher Publisher, opts ...ReloaderOption) *Reloader {
	r := &Reloader{
		publisher: publisher,
		logger:    observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Apply compiles cfg and publishes it. cfg must already be defaulted
// and validated, as config.Parse and config.LoadConfig return it.
func (r *Reloader) Apply(source string, cfg *config.GatewayConfig) (*router.Table, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	table, err := router.NewTable(cfg)
	if err != nil {
		r.record(source, err)
		r.logger.Error("route table rejected",
			observability.String("source", source),
			observability.Error(err),
		)
		return nil, err
	}

	if r.current != nil {
		r.warnRestartOnly(r.current, cfg)
	}

	if r.services != nil {
		r.services.SetStatic(discovery.NewStatic(cfg.Spec.Services))
	}
	r.publisher.Publish(table)
	r.current = cfg

	r.record(source, nil)
	if r.metrics != nil {
		r.metrics.SetRouteTable(table.Version(), table.Len())
	}
	r.logger.Info("configuration applied",
		observability.String("source", source),
		observability.Uint64("version", table.Version()),
		observability.Int("routes", table.Len()),
	)
	return table, nil
}

// Current returns the last applied configuration.
func (r *Reloader) Current() *config.GatewayConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func (r *Reloader) record(source string, err error) {
	if r.metrics != nil {
		r.metrics.RecordConfigReload(source, err)
	}
}

// warnRestartOnly logs settings that only take effect on restart.
func (r *Reloader) warnRestartOnly(prev, next *config.GatewayConfig) {
	changed := func(name string, a, b any) {
		if !reflect.DeepEqual(a, b) {
			r.logger.Warn("setting changed; restart required to apply",
				observability.String("setting", name),
			)
		}
	}
	changed("listener", prev.Spec.Listener, next.Spec.Listener)
	changed("admin", prev.Spec.Admin, next.Spec.Admin)
	changed("downstream", prev.Spec.Downstream, next.Spec.Downstream)
	changed("discovery", prev.Spec.Discovery, next.Spec.Discovery)
	changed("cache", prev.Spec.Cache, next.Spec.Cache)
	changed("tracing", prev.Spec.Tracing, next.Spec.Tracing)

	// Routes compile the key into the new table; only the inbound
	// middleware keeps the header it was started with.
	if prev.Spec.RequestIDKey != next.Spec.RequestIDKey {
		r.logger.Warn("request id key changed; downstream routes use the new header, "+
			"inbound requests keep the old header until restart",
			observability.String("setting", "requestIdKey"),
			observability.String("inbound_header", prev.Spec.RequestIDKey),
			observability.String("downstream_header", next.Spec.RequestIDKey),
		)
	}
}
