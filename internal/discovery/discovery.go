// Package discovery resolves a logical service name into the network
// endpoints that currently serve it.
//
// Statically declared services are always answered from configuration.
// Names the static set does not know are passed to the configured
// dynamic provider (Redis registry, Consul catalog or DNS SRV), which
// is wrapped with a TTL cache and a circuit breaker:
//
//	Composite ── Static
//	          └─ Instrumented ─ Caching ─ Guarded ─ Redis | Consul | DNS
package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/vyrodovalexey/routegw/internal/config"
)

// ErrUnknownService is returned by Static for names it does not hold.
var ErrUnknownService = errors.New("unknown service")

// Endpoint is one network address of a service. Tag is an opaque
// identity or health marker supplied by the provider.
type Endpoint struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	Tag  string `json:"tag,omitempty"`
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String implements fmt.Stringer.
func (e Endpoint) String() string {
	return e.Address()
}

// Resolver returns the ordered endpoints of a service. An empty result
// with a nil error means the service currently has no endpoints.
type Resolver interface {
	Resolve(ctx context.Context, service string) ([]Endpoint, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, service string) ([]Endpoint, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	return f(ctx, service)
}

// FromConfig converts configured endpoints.
func FromConfig(eps []config.EndpointConfig) []Endpoint {
	out := make([]Endpoint, 0, len(eps))
	for _, ep := range eps {
		out = append(out, Endpoint{Host: ep.Host, Port: ep.Port, Tag: ep.Tag})
	}
	return out
}

// Static resolves services declared in configuration.
type Static struct {
	services map[string][]Endpoint
}

// NewStatic builds a Static resolver from configured services.
func NewStatic(services []config.ServiceConfig) *Static {
	s := &Static{services: make(map[string][]Endpoint, len(services))}
	for _, svc := range services {
		s.services[svc.Name] = FromConfig(svc.Endpoints)
	}
	return s
}

// Resolve implements Resolver.
func (s *Static) Resolve(_ context.Context, service string) ([]Endpoint, error) {
	eps, ok := s.services[service]
	if !ok {
		return nil, ErrUnknownService
	}
	return eps, nil
}

// Composite answers from the static set first and falls back to the
// dynamic provider. The static set is replaced on every configuration
// reload; the dynamic provider lives for the whole process.
type Composite struct {
	static  atomic.Pointer[Static]
	dynamic Resolver
	closers []func() error
}

// NewComposite creates a Composite. dynamic may be nil.
func NewComposite(static *Static, dynamic Resolver) *Composite {
	c := &Composite{dynamic: dynamic}
	if static == nil {
		static = NewStatic(nil)
	}
	c.static.Store(static)
	return c
}

// SetStatic swaps the static service set.
func (c *Composite) SetStatic(static *Static) {
	c.static.Store(static)
}

// Resolve implements Resolver.
func (c *Composite) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	eps, err := c.static.Load().Resolve(ctx, service)
	if err == nil {
		return eps, nil
	}
	if !errors.Is(err, ErrUnknownService) || c.dynamic == nil {
		return nil, err
	}
	return c.dynamic.Resolve(ctx, service)
}

// Close releases provider clients.
func (c *Composite) Close() error {
	var errs []error
	for _, fn := range c.closers {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
