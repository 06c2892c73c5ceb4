package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vyrodovalexey/routegw/internal/cache"
	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/health"
	"github.com/vyrodovalexey/routegw/internal/middleware"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/qos"
	"github.com/vyrodovalexey/routegw/internal/router"
)

// ConfigApplier validates and publishes configurations.
type ConfigApplier interface {
	// Apply compiles cfg and publishes the resulting table. On error
	// the current table stays in place.
	Apply(source string, cfg *config.GatewayConfig) (*router.Table, error)
}

// CircuitLister lists circuit breaker state.
type CircuitLister interface {
	Circuits() []qos.CircuitInfo
}

// Options holds the collaborators of the admin API. Cache, Circuits,
// Health and Metrics are optional.
type Options struct {
	Applier  ConfigApplier
	Store    *router.Store
	Cache    cache.Cache
	Circuits CircuitLister
	Health   *health.Checker
	Metrics  http.Handler
	Logger   observability.Logger
}

// Server is the administration HTTP server.
type Server struct {
	opts       Options
	router     *chi.Mux
	httpServer *http.Server
	logger     observability.Logger
}

// NewServer creates the admin server listening on addr.
func NewServer(addr string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger()
	}
	s := &Server{
		opts:   opts,
		router: chi.NewRouter(),
		logger: opts.Logger,
	}

	s.router.Use(middleware.Recovery(s.logger))
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	h := &handlers{opts: s.opts, logger: s.logger}

	s.router.Route("/admin", func(r chi.Router) {
		r.Get("/configuration", h.getConfiguration)
		r.Post("/configuration", h.postConfiguration)
		r.Get("/routes", h.getRoutes)
		r.Get("/circuits", h.getCircuits)
		r.Delete("/outputcache/{region}", h.deleteCacheRegion)
	})

	if s.opts.Health != nil {
		s.router.Get("/healthz", s.opts.Health.LivenessHandler())
		s.router.Get("/readyz", s.opts.Health.ReadinessHandler())
		s.router.Get("/health", s.opts.Health.HealthHandler())
	}
	if s.opts.Metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}
}

// Handler returns the admin HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves in the
// background. It returns once the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}

	s.logger.Info("admin server listening", observability.String("address", ln.Addr().String()))

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("admin server failed", observability.Error(err))
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
