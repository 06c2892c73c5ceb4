package qos

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/util"
)

// Outcome is the result of a downstream call as seen by the governor.
type Outcome interface {
	Status() int
}

// Call performs one downstream call. It must honor ctx cancellation.
type Call func(ctx context.Context) (Outcome, error)

type circuitKey struct {
	route    string
	endpoint string
}

// Governor owns every circuit of the process.
type Governor struct {
	circuits sync.Map
	now      func() time.Time
	logger   observability.Logger
	metrics  *Metrics
}

// Option configures a Governor.
type Option func(*Governor)

// WithClock overrides the time source used for break durations.
func WithClock(now func() time.Time) Option {
	return func(g *Governor) {
		g.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(g *Governor) {
		g.logger = logger
	}
}

// NewGovernor creates a Governor.
func NewGovernor(opts ...Option) *Governor {
	g := &Governor{
		now:     time.Now,
		logger:  observability.NopLogger(),
		metrics: GetMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Circuit returns the circuit of (route, endpoint), or nil if none was
// created yet.
func (g *Governor) Circuit(route, endpoint string) *Circuit {
	v, ok := g.circuits.Load(circuitKey{route: route, endpoint: endpoint})
	if !ok {
		return nil
	}
	return v.(*Circuit)
}

func (g *Governor) circuit(route, endpoint string) *Circuit {
	key := circuitKey{route: route, endpoint: endpoint}
	if v, ok := g.circuits.Load(key); ok {
		return v.(*Circuit)
	}
	actual, loaded := g.circuits.LoadOrStore(key, &Circuit{})
	if !loaded {
		g.metrics.state.WithLabelValues(route, endpoint).Set(float64(StateClosed))
	}
	return actual.(*Circuit)
}

// Execute runs call under policy for (route, endpoint).
//
// A nil policy bypasses the governor. Otherwise the call runs with the
// policy timeout; on expiry the call context is canceled, the governor
// returns without waiting for the call and the attempt counts as a
// failure. Cancellation of ctx by the caller is neither a success nor a
// failure. A returned Outcome with a failing status is still returned
// to the caller with a nil error.
func (g *Governor) Execute(ctx context.Context, route, endpoint string, policy *config.QoSConfig, call Call) (Outcome, error) {
	if policy == nil {
		return call(ctx)
	}

	var (
		c     *Circuit
		probe bool
	)
	if policy.HasBreaker() {
		c = g.circuit(route, endpoint)
		var (
			t  *transition
			ok bool
		)
		probe, t, ok = c.allow(g.now(), policy)
		g.report(route, endpoint, t)
		if !ok {
			g.metrics.rejectedTotal.WithLabelValues(route).Inc()
			return nil, util.NewCircuitOpenError(route, endpoint, c.State().String())
		}
	}

	out, err := g.run(ctx, route, endpoint, policy.Timeout.Duration(), call)
	if c == nil {
		return out, err
	}

	if errors.Is(err, util.ErrRequestCanceled) {
		c.abandon(probe)
		return out, err
	}
	g.report(route, endpoint, c.record(isFailure(out, err, policy), probe, g.now(), policy))
	return out, err
}

type callResult struct {
	out Outcome
	err error
}

func (g *Governor) run(ctx context.Context, route, endpoint string, timeout time.Duration, call Call) (Outcome, error) {
	if timeout <= 0 {
		out, err := call(ctx)
		if err != nil && ctx.Err() != nil {
			return nil, canceled(ctx)
		}
		return out, err
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		out, err := call(callCtx)
		done <- callResult{out: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil {
			return r.out, nil
		}
		if ctx.Err() != nil {
			return nil, canceled(ctx)
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			g.metrics.timeoutsTotal.WithLabelValues(route).Inc()
			return nil, util.NewDownstreamTimeoutError(route, endpoint, timeout)
		}
		return r.out, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, canceled(ctx)
		}
		g.metrics.timeoutsTotal.WithLabelValues(route).Inc()
		return nil, util.NewDownstreamTimeoutError(route, endpoint, timeout)
	}
}

func canceled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", util.ErrRequestCanceled, ctx.Err())
}

func isFailure(out Outcome, err error, policy *config.QoSConfig) bool {
	if err != nil {
		return true
	}
	if out == nil {
		return false
	}
	status := out.Status()
	if status >= http.StatusInternalServerError {
		return true
	}
	return policy.CountClientErrors && status >= http.StatusBadRequest
}

func (g *Governor) report(route, endpoint string, t *transition) {
	if t == nil {
		return
	}
	g.metrics.state.WithLabelValues(route, endpoint).Set(float64(t.to))
	g.metrics.transitionsTotal.WithLabelValues(route, t.from.String(), t.to.String()).Inc()
	g.logger.Info("circuit state changed",
		observability.String("route", route),
		observability.String("endpoint", endpoint),
		observability.String("from", t.from.String()),
		observability.String("to", t.to.String()),
	)
}

// CircuitInfo describes one circuit.
type CircuitInfo struct {
	Route                string    `json:"route"`
	Endpoint             string    `json:"endpoint"`
	State                string    `json:"state"`
	ConsecutiveFailures  int       `json:"consecutiveFailures"`
	ConsecutiveSuccesses int       `json:"consecutiveSuccesses"`
	OpenedAt             time.Time `json:"openedAt,omitempty"`
}

// Circuits lists every circuit.
func (g *Governor) Circuits() []CircuitInfo {
	var out []CircuitInfo
	g.circuits.Range(func(k, v any) bool {
		key := k.(circuitKey)
		c := v.(*Circuit)
		failures, successes, openedAt := c.Snapshot()
		out = append(out, CircuitInfo{
			Route:                key.route,
			Endpoint:             key.endpoint,
			State:                c.State().String(),
			ConsecutiveFailures:  failures,
			ConsecutiveSuccesses: successes,
			OpenedAt:             openedAt,
		})
		return true
	})
	return out
}

// Prune drops the circuits of routes not in keep.
func (g *Governor) Prune(keep map[string]struct{}) int {
	removed := 0
	g.circuits.Range(func(k, _ any) bool {
		key := k.(circuitKey)
		if _, ok := keep[key.route]; !ok {
			g.circuits.Delete(key)
			g.metrics.state.DeleteLabelValues(key.route, key.endpoint)
			removed++
		}
		return true
	})
	return removed
}

// PruneEndpoints drops the circuits of route whose endpoint is not in
// live.
func (g *Governor) PruneEndpoints(route string, live map[string]struct{}) {
	g.circuits.Range(func(k, _ any) bool {
		key := k.(circuitKey)
		if key.route != route {
			return true
		}
		if _, ok := live[key.endpoint]; !ok {
			g.circuits.Delete(key)
			g.metrics.state.DeleteLabelValues(key.route, key.endpoint)
		}
		return true
	})
}
