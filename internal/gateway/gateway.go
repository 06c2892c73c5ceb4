package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
)

// State represents the gateway state.
type State int32

const (
	// StateStopped indicates the gateway is stopped.
	StateStopped State = iota
	// StateStarting indicates the gateway is starting.
	StateStarting
	// StateRunning indicates the gateway is running.
	StateRunning
	// StateStopping indicates the gateway is stopping.
	StateStopping
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Gateway is the public HTTP front of the gateway.
type Gateway struct {
	config          config.ListenerConfig
	logger          observability.Logger
	engine          *gin.Engine
	listener        *Listener
	handler         http.Handler
	middlewares     []func(http.Handler) http.Handler
	state           atomic.Int32
	startTime       time.Time
	shutdownTimeout time.Duration
}

// Option is a functional option for configuring the gateway.
type Option func(*Gateway)

// WithLogger sets the logger for the gateway.
func WithLogger(logger observability.Logger) Option {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// WithMiddleware wraps the route handler. The first middleware given
// is the outermost.
func WithMiddleware(mw ...func(http.Handler) http.Handler) Option {
	return func(g *Gateway) {
		g.middlewares = append(g.middlewares, mw...)
	}
}

// New creates a Gateway serving handler for every request.
func New(cfg config.ListenerConfig, handler http.Handler, opts ...Option) (*Gateway, error) {
	if handler == nil {
		return nil, fmt.Errorf("route handler is required")
	}

	g := &Gateway{
		config:          cfg,
		logger:          observability.NopLogger(),
		handler:         handler,
		shutdownTimeout: orDefault(cfg.ShutdownTimeout, config.DefaultShutdownTimeout),
	}
	for _, opt := range opts {
		opt(g)
	}

	gin.SetMode(gin.ReleaseMode)
	g.engine = gin.New()
	g.engine.UseRawPath = true
	g.engine.UnescapePathValues = false
	g.engine.RedirectTrailingSlash = false
	g.engine.RedirectFixedPath = false
	g.engine.HandleMethodNotAllowed = false

	wrapped := g.handler
	for i := len(g.middlewares) - 1; i >= 0; i-- {
		wrapped = g.middlewares[i](wrapped)
	}
	g.engine.NoRoute(gin.WrapH(wrapped))

	g.state.Store(int32(StateStopped))
	return g, nil
}

// Start starts the gateway.
func (g *Gateway) Start(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return fmt.Errorf("gateway is not in stopped state")
	}

	g.listener = NewListener(g.config, g.engine, g.logger)
	if err := g.listener.Start(ctx); err != nil {
		g.state.Store(int32(StateStopped))
		return err
	}

	g.startTime = time.Now()
	g.state.Store(int32(StateRunning))

	g.logger.Info("gateway started", observability.String("address", g.listener.Addr().String()))
	return nil
}

// Stop stops the gateway gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	if !g.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return fmt.Errorf("gateway is not running")
	}

	g.logger.Info("stopping gateway")

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.shutdownTimeout)
		defer cancel()
	}

	err := g.listener.Stop(ctx)
	g.state.Store(int32(StateStopped))

	g.logger.Info("gateway stopped")
	return err
}

// State returns the current gateway state.
func (g *Gateway) State() State {
	return State(g.state.Load())
}

// IsRunning returns true if the gateway is running.
func (g *Gateway) IsRunning() bool {
	return g.State() == StateRunning
}

// Uptime returns the gateway uptime.
func (g *Gateway) Uptime() time.Duration {
	if g.startTime.IsZero() {
		return 0
	}
	return time.Since(g.startTime)
}

// Addr returns the bound listener address, or nil when not running.
func (g *Gateway) Addr() net.Addr {
	if g.listener == nil {
		return nil
	}
	return g.listener.Addr()
}

// Engine returns the gin engine.
func (g *Gateway) Engine() *gin.Engine {
	return g.engine
}
