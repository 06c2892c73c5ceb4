package loadbalancer

import (
	"sync"
	"sync/atomic"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/discovery"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// Lease is a selected endpoint held for the duration of one call.
type Lease struct {
	Endpoint discovery.Endpoint

	once    sync.Once
	release func()
}

// Release returns the endpoint. Only the first call has an effect.
func (l *Lease) Release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		if l.release != nil {
			l.release()
		}
	})
}

type routeState struct {
	counter atomic.Uint64

	mu       sync.Mutex
	inflight map[string]int64
}

// Balancer holds the per-route selection state for every strategy.
// State is created on first use of a route and lives until Prune.
type Balancer struct {
	mu      sync.RWMutex
	routes  map[string]*routeState
	metrics *Metrics
}

// New creates an empty Balancer.
func New() *Balancer {
	return &Balancer{
		routes:  make(map[string]*routeState),
		metrics: GetMetrics(),
	}
}

func (b *Balancer) state(route string) *routeState {
	b.mu.RLock()
	st, ok := b.routes[route]
	b.mu.RUnlock()
	if ok {
		return st
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if st, ok = b.routes[route]; ok {
		return st
	}
	st = &routeState{inflight: make(map[string]int64)}
	b.routes[route] = st
	return st
}

// Select picks one of endpoints for route using strategy. An empty
// endpoint set yields util.ErrNoAvailableEndpoint. Unknown strategies
// behave as None.
func (b *Balancer) Select(route, strategy string, endpoints []discovery.Endpoint) (*Lease, error) {
	n := len(endpoints)
	if n == 0 {
		return nil, util.ErrNoAvailableEndpoint
	}

	var lease *Lease
	switch strategy {
	case config.LoadBalancerRoundRobin:
		idx := b.state(route).counter.Add(1) - 1
		lease = &Lease{Endpoint: endpoints[idx%uint64(n)]}
	case config.LoadBalancerLeastConnection:
		lease = b.leastConnection(route, endpoints)
	default:
		strategy = config.LoadBalancerNone
		lease = &Lease{Endpoint: endpoints[0]}
	}

	b.metrics.selectionsTotal.WithLabelValues(route, strategy).Inc()
	return lease, nil
}

func (b *Balancer) leastConnection(route string, endpoints []discovery.Endpoint) *Lease {
	st := b.state(route)

	st.mu.Lock()
	best := 0
	bestCount := st.inflight[endpoints[0].Address()]
	for i := 1; i < len(endpoints); i++ {
		if c := st.inflight[endpoints[i].Address()]; c < bestCount {
			best, bestCount = i, c
		}
	}
	addr := endpoints[best].Address()
	st.inflight[addr]++
	st.mu.Unlock()

	b.metrics.inflight.WithLabelValues(route, addr).Inc()

	return &Lease{
		Endpoint: endpoints[best],
		release: func() {
			st.mu.Lock()
			if st.inflight[addr]--; st.inflight[addr] <= 0 {
				delete(st.inflight, addr)
			}
			st.mu.Unlock()
			b.metrics.inflight.WithLabelValues(route, addr).Dec()
		},
	}
}

// InFlight returns the number of outstanding least-connection leases
// for an endpoint address on route.
func (b *Balancer) InFlight(route, address string) int64 {
	b.mu.RLock()
	st, ok := b.routes[route]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inflight[address]
}

// Prune drops the state of every route not in keep. Outstanding leases
// of a pruned route still release safely against the detached state.
func (b *Balancer) Prune(keep map[string]struct{}) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for name := range b.routes {
		if _, ok := keep[name]; !ok {
			delete(b.routes, name)
			removed++
		}
	}
	return removed
}

// Len returns the number of routes with state.
func (b *Balancer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.routes)
}
