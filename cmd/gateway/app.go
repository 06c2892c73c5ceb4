package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vyrodovalexey/routegw/internal/admin"
	"github.com/vyrodovalexey/routegw/internal/cache"
	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/discovery"
	"github.com/vyrodovalexey/routegw/internal/dispatch"
	"github.com/vyrodovalexey/routegw/internal/downstream"
	"github.com/vyrodovalexey/routegw/internal/gateway"
	"github.com/vyrodovalexey/routegw/internal/health"
	"github.com/vyrodovalexey/routegw/internal/loadbalancer"
	"github.com/vyrodovalexey/routegw/internal/middleware"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/proxy"
	"github.com/vyrodovalexey/routegw/internal/qos"
	"github.com/vyrodovalexey/routegw/internal/router"
)

// application holds all initialized components.
type application struct {
	gateway       *gateway.Gateway
	admin         *admin.Server
	dispatcher    *dispatch.Dispatcher
	reloader      *gateway.Reloader
	services      *discovery.Composite
	cache         cache.Cache
	healthChecker *health.Checker
	metrics       *observability.Metrics
	tracer        *observability.Tracer
	config        *config.GatewayConfig
}

// newApplication builds every component from cfg and publishes the
// initial route table.
func newApplication(cfg *config.GatewayConfig, logger observability.Logger) (*application, error) {
	ctx := context.Background()

	metrics := observability.NewMetrics("gateway")
	metrics.SetBuildInfo(version, gitCommit, buildTime)
	registerMetrics(metrics.Registry())

	tracer, err := initTracer(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	services, err := discovery.New(ctx, cfg.Spec.Discovery, cfg.Spec.Services, logger)
	if err != nil {
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize service discovery: %w", err)
	}

	responseCache, err := cache.New(cfg.Spec.Cache, logger)
	if err != nil {
		_ = services.Close()
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize response cache: %w", err)
	}

	dispatcher := dispatch.New(
		router.NewStore(),
		services,
		downstream.NewHTTPCaller(cfg.Spec.Downstream),
		dispatch.WithCache(responseCache),
		dispatch.WithGovernor(qos.NewGovernor(qos.WithLogger(logger))),
		dispatch.WithLogger(logger),
	)

	reloader := gateway.NewReloader(dispatcher,
		gateway.WithServices(services),
		gateway.WithReloaderMetrics(metrics),
		gateway.WithReloaderLogger(logger),
	)
	if _, err := reloader.Apply("file", cfg); err != nil {
		_ = responseCache.Close()
		_ = services.Close()
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to publish initial route table: %w", err)
	}

	healthChecker := initHealthChecker(dispatcher.Store(), responseCache)

	handler := proxy.NewHandler(dispatcher, proxy.WithLogger(logger))
	gw, err := gateway.New(cfg.Spec.Listener, handler,
		gateway.WithLogger(logger),
		gateway.WithMiddleware(buildMiddlewareChain(cfg, logger, tracer, metrics)...),
	)
	if err != nil {
		_ = responseCache.Close()
		_ = services.Close()
		_ = tracer.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	app := &application{
		gateway:       gw,
		dispatcher:    dispatcher,
		reloader:      reloader,
		services:      services,
		cache:         responseCache,
		healthChecker: healthChecker,
		metrics:       metrics,
		tracer:        tracer,
		config:        cfg,
	}

	if cfg.Spec.Admin.Enabled {
		app.admin = admin.NewServer(cfg.Spec.Admin.Address, admin.Options{
			Applier:  reloader,
			Store:    dispatcher.Store(),
			Cache:    responseCache,
			Circuits: dispatcher.Governor(),
			Health:   healthChecker,
			Metrics:  metrics.Handler(),
			Logger:   logger,
		})
	}

	return app, nil
}

// registerMetrics registers the package level collectors with the
// gateway registry.
func registerMetrics(registry *prometheus.Registry) {
	discovery.GetMetrics().MustRegister(registry)
	loadbalancer.GetMetrics().MustRegister(registry)
	qos.GetMetrics().MustRegister(registry)
	cache.GetCacheMetrics().MustRegister(registry)
	dispatch.GetMetrics().MustRegister(registry)
	proxy.GetMetrics().MustRegister(registry)
	health.GetHealthMetrics().MustRegister(registry)
	middleware.GetMiddlewareMetrics().MustRegister(registry)
}

// buildMiddlewareChain returns the public listener middleware,
// outermost first.
func buildMiddlewareChain(
	cfg *config.GatewayConfig,
	logger observability.Logger,
	tracer *observability.Tracer,
	metrics *observability.Metrics,
) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		middleware.RequestID(cfg.Spec.RequestIDKey),
		middleware.Recovery(logger),
		middleware.Logging(logger),
		observability.TracingMiddleware(tracer),
		observability.MetricsMiddleware(metrics),
	}
}

// initHealthChecker registers the readiness checks.
func initHealthChecker(store *router.Store, responseCache cache.Cache) *health.Checker {
	checker := health.NewChecker(version)
	checker.RegisterCheck("route_table", health.RouteTableCheck(store))

	if rc, ok := responseCache.(*cache.Redis); ok {
		checker.RegisterCheck("cache_redis", health.RedisCheck(rc.Client(), false))
	}
	return checker
}
