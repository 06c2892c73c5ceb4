package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/retry"
)

const redisPingTimeout = 5 * time.Second

// New builds the resolver chain for the discovery section and the
// statically declared services of a configuration.
func New(ctx context.Context, cfg config.DiscoveryConfig, services []config.ServiceConfig,
	logger observability.Logger) (*Composite, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	static := NewStatic(services)

	retryCfg := &retry.Config{
		MaxRetries:     cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff.Duration(),
		MaxBackoff:     cfg.Retry.MaxBackoff.Duration(),
	}

	var (
		provider Resolver
		closers  []func() error
	)
	switch cfg.Provider {
	case config.DiscoveryStatic, "":
		return NewComposite(static, nil), nil
	case config.DiscoveryRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to discovery redis: %w", err)
		}
		provider = NewRedisRegistry(client, cfg.Redis.KeyPrefix,
			WithRedisRetry(retryCfg), WithRedisLogger(logger))
		closers = append(closers, client.Close)
	case config.DiscoveryConsul:
		consulResolver, err := NewConsulResolver(cfg.Consul, nil, retryCfg)
		if err != nil {
			return nil, err
		}
		provider = consulResolver
	case config.DiscoveryDNS:
		provider = NewDNSResolver(cfg.DNS)
	default:
		return nil, fmt.Errorf("unknown discovery provider %q", cfg.Provider)
	}

	guarded := NewGuarded("discovery-"+cfg.Provider, provider,
		cfg.Breaker.MaxFailures, cfg.Breaker.Timeout.Duration(), logger)
	cached := NewCaching(guarded, cfg.RefreshTTL.Duration(), WithCachingLogger(logger))

	c := NewComposite(static, Instrument(cfg.Provider, cached))
	c.closers = closers

	logger.Info("service discovery configured",
		observability.String("provider", cfg.Provider),
		observability.Int("static_services", len(services)),
		observability.Duration("refresh_ttl", cfg.RefreshTTL.Duration()),
	)
	return c, nil
}
