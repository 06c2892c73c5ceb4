package main

import (
	"context"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
)

// loadAndValidateConfig loads, defaults and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GatewayConfig {
	logger.Info("starting routegw",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil // unreachable in production; allows test to continue
	}

	if setter, ok := logger.(observability.LevelSetter); ok {
		if err := setter.SetLevel(cfg.Spec.Logging.Level); err != nil {
			logger.Warn("invalid log level in configuration", observability.Error(err))
		}
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.String("listener", cfg.Spec.Listener.Address),
		observability.Int("routes", len(cfg.Spec.Routes)),
		observability.Int("services", len(cfg.Spec.Services)),
		observability.String("discovery", cfg.Spec.Discovery.Provider),
		observability.String("cache", cfg.Spec.Cache.Type),
	)

	return cfg
}

// initTracer initializes the tracer from the tracing section.
func initTracer(ctx context.Context, cfg *config.GatewayConfig) (*observability.Tracer, error) {
	tracing := cfg.Spec.Tracing

	serviceName := tracing.ServiceName
	if serviceName == "" {
		serviceName = "routegw"
	}

	return observability.NewTracer(ctx, observability.TracerConfig{
		ServiceName:  serviceName,
		OTLPEndpoint: tracing.Endpoint,
		SamplingRate: tracing.SamplingRate,
		Enabled:      tracing.Enabled,
	})
}
