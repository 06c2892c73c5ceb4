package dispatch

import (
	"sort"
	"strings"
	"sync"

	"github.com/vyrodovalexey/routegw/internal/discovery"
)

// endpointSets remembers the last resolved endpoint set of each route so
// circuits are pruned only when discovery reports a different set.
type endpointSets struct {
	mu      sync.RWMutex
	byRoute map[string]string
}

func newEndpointSets() *endpointSets {
	return &endpointSets{byRoute: make(map[string]string)}
}

// observe records endpoints for route and reports whether they differ
// from the previous set.
func (s *endpointSets) observe(route string, endpoints []discovery.Endpoint) bool {
	sig := signature(endpoints)

	s.mu.RLock()
	prev, ok := s.byRoute[route]
	s.mu.RUnlock()
	if ok && prev == sig {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.byRoute[route]; ok && prev == sig {
		return false
	}
	s.byRoute[route] = sig
	return true
}

// prune forgets the routes not in keep.
func (s *endpointSets) prune(keep map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.byRoute {
		if _, ok := keep[name]; !ok {
			delete(s.byRoute, name)
		}
	}
}

func (s *endpointSets) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byRoute)
}

// signature is the sorted, comma-joined address list.
func signature(endpoints []discovery.Endpoint) string {
	addrs := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		addrs = append(addrs, ep.Address())
	}
	sort.Strings(addrs)
	return strings.Join(addrs, ",")
}
