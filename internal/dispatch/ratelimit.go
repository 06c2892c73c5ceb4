package dispatch

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/routegw/internal/config"
)

// limiters holds one token bucket per rate-limited route.
type limiters struct {
	mu      sync.RWMutex
	byRoute map[string]*rate.Limiter
}

func newLimiters() *limiters {
	return &limiters{byRoute: make(map[string]*rate.Limiter)}
}

// allow takes a token for route, creating its bucket on first use and
// adopting changed limits after a reload.
func (l *limiters) allow(route string, cfg *config.RateLimitConfig) bool {
	l.mu.RLock()
	lim, ok := l.byRoute[route]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		lim, ok = l.byRoute[route]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
			l.byRoute[route] = lim
		}
		l.mu.Unlock()
	}

	if lim.Limit() != rate.Limit(cfg.RequestsPerSecond) {
		lim.SetLimit(rate.Limit(cfg.RequestsPerSecond))
	}
	if lim.Burst() != cfg.Burst {
		lim.SetBurst(cfg.Burst)
	}
	return lim.Allow()
}

// prune drops the buckets of routes not in keep.
func (l *limiters) prune(keep map[string]struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for name := range l.byRoute {
		if _, ok := keep[name]; !ok {
			delete(l.byRoute, name)
		}
	}
}

func (l *limiters) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byRoute)
}
