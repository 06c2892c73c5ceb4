package qos

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/routegw/internal/config"
)

// State is the state of one circuit.
type State int32

const (
	// StateClosed lets calls through.
	StateClosed State = iota

	// StateOpen rejects calls until the break duration elapses.
	StateOpen

	// StateHalfOpen lets a single probe through.
	StateHalfOpen
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// transition is reported to the governor after the circuit lock is
// released.
type transition struct {
	from, to State
}

// Circuit is the breaker state of one (route, endpoint) pair. The state
// word is read without locking on every call so Closed traffic never
// contends; counters and transitions are guarded by mu.
type Circuit struct {
	state   atomic.Int32
	probing atomic.Bool

	mu                   sync.Mutex
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
}

// State returns the current state.
func (c *Circuit) State() State {
	return State(c.state.Load())
}

// Snapshot returns the counters and the time the circuit last opened.
func (c *Circuit) Snapshot() (failures, successes int, openedAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consecutiveFailures, c.consecutiveSuccesses, c.openedAt
}

// allow decides whether a call may proceed. probe is true when the
// caller holds the single HalfOpen trial slot and must hand it back
// through record or abandon.
func (c *Circuit) allow(now time.Time, policy *config.QoSConfig) (probe bool, t *transition, ok bool) {
	switch State(c.state.Load()) {
	case StateClosed:
		return false, nil, true
	case StateOpen:
		c.mu.Lock()
		if State(c.state.Load()) == StateOpen && now.Sub(c.openedAt) >= policy.DurationOfBreak.Duration() {
			c.setState(StateHalfOpen)
			c.consecutiveSuccesses = 0
			t = &transition{from: StateOpen, to: StateHalfOpen}
		}
		c.mu.Unlock()
	}

	if State(c.state.Load()) != StateHalfOpen {
		return false, t, false
	}
	if !c.probing.CompareAndSwap(false, true) {
		return false, t, false
	}
	return true, t, true
}

// record applies the result of a call that was allowed.
func (c *Circuit) record(failed, probe bool, now time.Time, policy *config.QoSConfig) *transition {
	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		if probe {
			c.probing.Store(false)
		}
	}()

	from := State(c.state.Load())
	if failed {
		c.consecutiveSuccesses = 0
		switch from {
		case StateClosed:
			c.consecutiveFailures++
			if c.consecutiveFailures >= policy.ExceptionsAllowedBeforeBreaking {
				c.open(now)
				return &transition{from: from, to: StateOpen}
			}
		case StateHalfOpen:
			if probe {
				c.open(now)
				return &transition{from: from, to: StateOpen}
			}
		}
		return nil
	}

	switch from {
	case StateClosed:
		c.consecutiveFailures = 0
	case StateHalfOpen:
		if !probe {
			return nil
		}
		c.consecutiveSuccesses++
		if c.consecutiveSuccesses >= successThreshold(policy) {
			c.setState(StateClosed)
			c.consecutiveFailures = 0
			c.consecutiveSuccesses = 0
			return &transition{from: from, to: StateClosed}
		}
	}
	return nil
}

// abandon hands back the probe slot of a call that ended with neither a
// success nor a failure.
func (c *Circuit) abandon(probe bool) {
	if probe {
		c.probing.Store(false)
	}
}

func (c *Circuit) open(now time.Time) {
	c.setState(StateOpen)
	c.openedAt = now
	c.consecutiveSuccesses = 0
}

func (c *Circuit) setState(s State) {
	c.state.Store(int32(s))
}

func successThreshold(policy *config.QoSConfig) int {
	if policy.SuccessThresholdToClose < 1 {
		return config.DefaultSuccessToClose
	}
	return policy.SuccessThresholdToClose
}
