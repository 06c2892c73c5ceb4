package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/retry"
)

// RedisRegistry resolves services from Redis lists. Each service is a
// list at prefix+name whose elements are JSON-encoded endpoints.
type RedisRegistry struct {
	client redis.UniversalClient
	prefix string
	retry  *retry.Config
	logger observability.Logger
}

// RedisOption configures a RedisRegistry.
type RedisOption func(*RedisRegistry)

// WithRedisRetry sets the retry policy for lookups.
func WithRedisRetry(cfg *retry.Config) RedisOption {
	return func(r *RedisRegistry) {
		r.retry = cfg
	}
}

// WithRedisLogger sets the logger.
func WithRedisLogger(logger observability.Logger) RedisOption {
	return func(r *RedisRegistry) {
		r.logger = logger
	}
}

// NewRedisRegistry creates a registry over client.
func NewRedisRegistry(client redis.UniversalClient, prefix string, opts ...RedisOption) *RedisRegistry {
	r := &RedisRegistry{
		client: client,
		prefix: prefix,
		retry:  retry.DefaultConfig(),
		logger: observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *RedisRegistry) key(service string) string {
	return r.prefix + service
}

// Resolve implements Resolver. A missing key yields no endpoints.
// Malformed elements are skipped.
func (r *RedisRegistry) Resolve(ctx context.Context, service string) ([]Endpoint, error) {
	var raw []string
	err := retry.Do(ctx, r.retry, func(ctx context.Context) error {
		var err error
		raw, err = r.client.LRange(ctx, r.key(service), 0, -1).Result()
		return err
	}, &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			r.logger.Debug("retrying redis service lookup",
				observability.String("service", service),
				observability.Int("attempt", attempt),
				observability.Error(err),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("redis lookup of %q: %w", service, err)
	}

	eps := make([]Endpoint, 0, len(raw))
	for _, item := range raw {
		var ep Endpoint
		if err := json.Unmarshal([]byte(item), &ep); err != nil || ep.Host == "" || ep.Port <= 0 {
			r.logger.Warn("skipping malformed registry entry",
				observability.String("service", service),
				observability.String("entry", item),
			)
			continue
		}
		eps = append(eps, ep)
	}
	return eps, nil
}

// Register appends ep to the service list.
func (r *RedisRegistry) Register(ctx context.Context, service string, ep Endpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("failed to encode endpoint: %w", err)
	}
	return r.client.RPush(ctx, r.key(service), data).Err()
}

// Deregister removes every occurrence of ep from the service list.
func (r *RedisRegistry) Deregister(ctx context.Context, service string, ep Endpoint) error {
	data, err := json.Marshal(ep)
	if err != nil {
		return fmt.Errorf("failed to encode endpoint: %w", err)
	}
	return r.client.LRem(ctx, r.key(service), 0, data).Err()
}

func isRetryableRedisError(err error) bool {
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}
