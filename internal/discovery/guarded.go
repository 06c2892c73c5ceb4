package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

// Guarded stops calling a failing registry for a while so that request
// handling does not queue behind lookups that will time out.
type Guarded struct {
	next Resolver
	cb   *gobreaker.CircuitBreaker
}

// NewGuarded wraps next with a circuit breaker that opens after
// maxFailures consecutive failures and probes again after timeout.
func NewGuarded(name string, next Resolver, maxFailures uint32, timeout time.Duration, logger observability.Logger) *Guarded {
	if logger == nil {
		logger = observability.NopLogger()
	}
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("discovery circuit breaker state changed",
				observability.String("name", name),
				observability.String("from", from.String()),
				observability.String("to", to.String()),
			)
		},
	}
	return &Guarded{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Resolve implements Resolver.
func (g *Guarded) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Resolve(ctx, service)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("registry unavailable: %w", err)
		}
		return nil, err
	}
	return v.([]Endpoint), nil
}

// State returns the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}
