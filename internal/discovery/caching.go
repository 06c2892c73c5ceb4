package discovery

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

// DefaultLookupTimeout bounds one shared registry lookup.
const DefaultLookupTimeout = 10 * time.Second

type cachedEndpoints struct {
	endpoints []Endpoint
	fetchedAt time.Time
}

// Caching keeps the result of a lookup for a TTL. Concurrent misses
// for the same service share one lookup. When a refresh fails and a
// previous result exists, the stale result is served.
//
// A shared lookup is detached from the cancellation of the caller that
// started it and bounded by the lookup timeout instead; each caller
// stops waiting when its own context ends.
type Caching struct {
	next          Resolver
	ttl           time.Duration
	lookupTimeout time.Duration
	now           func() time.Time
	logger        observability.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	entries map[string]cachedEndpoints
}

// CachingOption configures Caching.
type CachingOption func(*Caching)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CachingOption {
	return func(c *Caching) {
		c.now = now
	}
}

// WithLookupTimeout bounds each shared lookup.
func WithLookupTimeout(d time.Duration) CachingOption {
	return func(c *Caching) {
		if d > 0 {
			c.lookupTimeout = d
		}
	}
}

// WithCachingLogger sets the logger.
func WithCachingLogger(logger observability.Logger) CachingOption {
	return func(c *Caching) {
		c.logger = logger
	}
}

// NewCaching wraps next with a TTL cache.
func NewCaching(next Resolver, ttl time.Duration, opts ...CachingOption) *Caching {
	c := &Caching{
		next:          next,
		ttl:           ttl,
		lookupTimeout: DefaultLookupTimeout,
		now:           time.Now,
		logger:        observability.NopLogger(),
		entries:       make(map[string]cachedEndpoints),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Resolve implements Resolver.
func (c *Caching) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	c.mu.RLock()
	entry, ok := c.entries[service]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.fetchedAt) < c.ttl {
		return entry.endpoints, nil
	}

	flight := c.group.DoChan(service, func() (interface{}, error) {
		lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.lookupTimeout)
		defer cancel()

		eps, err := c.next.Resolve(lookupCtx, service)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[service] = cachedEndpoints{endpoints: eps, fetchedAt: c.now()}
		c.mu.Unlock()
		return eps, nil
	})

	var (
		v   interface{}
		err error
	)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-flight:
		v, err = res.Val, res.Err
	}
	if err != nil {
		if ok {
			c.logger.Warn("serving stale endpoints after lookup failure",
				observability.String("service", service),
				observability.Error(err),
			)
			return entry.endpoints, nil
		}
		return nil, err
	}
	return v.([]Endpoint), nil
}

// Invalidate drops the cached result for service.
func (c *Caching) Invalidate(service string) {
	c.mu.Lock()
	delete(c.entries, service)
	c.mu.Unlock()
}

// Purge drops every cached result.
func (c *Caching) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]cachedEndpoints)
	c.mu.Unlock()
}
