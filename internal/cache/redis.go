package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/routegw/internal/observability"
	"github.com/vyrodovalexey/routegw/internal/retry"
)

const scanBatch = 256

// redisRetryConfig returns the retry configuration for Redis operations.
func redisRetryConfig() *retry.Config {
	return &retry.Config{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
		JitterFactor:   retry.DefaultJitterFactor,
	}
}

// isRetryableRedisError checks if the error is a network or server
// error worth another attempt.
func isRetryableRedisError(err error) bool {
	if err == nil {
		return false
	}
	return !errors.Is(err, redis.Nil) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// Redis stores entries as JSON values with a native Redis expiry.
type Redis struct {
	client    redis.UniversalClient
	keyPrefix string
	logger    observability.Logger
	retry     *retry.Config
}

// NewRedis creates a Redis cache over client.
func NewRedis(client redis.UniversalClient, keyPrefix string, logger observability.Logger) *Redis {
	if logger == nil {
		logger = observability.NopLogger()
	}
	logger.Info("redis cache initialized",
		observability.String("keyPrefix", keyPrefix))
	return &Redis{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger,
		retry:     redisRetryConfig(),
	}
}

// Client returns the underlying Redis client.
func (c *Redis) Client() redis.UniversalClient {
	return c.client
}

// pingRedis tests the Redis connection with a timeout.
func pingRedis(client redis.UniversalClient) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}

func (c *Redis) resolveKey(key string) string {
	return c.keyPrefix + key
}

func (c *Redis) retryOptions(op, key string) *retry.Options {
	return &retry.Options{
		ShouldRetry: isRetryableRedisError,
		OnRetry: func(attempt int, err error, _ time.Duration) {
			c.logger.Debug("retrying redis "+op,
				observability.String("key", key),
				observability.Int("attempt", attempt),
				observability.Error(err))
		},
	}
}

// Get implements Cache.
func (c *Redis) Get(ctx context.Context, key string) (*Entry, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("cache.backend", "redis")),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues("redis", "get").Observe(time.Since(start).Seconds())
	}()

	var raw []byte
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		var err error
		raw, err = c.client.Get(ctx, c.resolveKey(key)).Bytes()
		return err
	}, c.retryOptions("get", key))

	if errors.Is(err, redis.Nil) {
		GetCacheMetrics().missesTotal.WithLabelValues("redis").Inc()
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, ErrCacheMiss
	}
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "get").Inc()
		c.logger.Warn("dropping undecodable cache entry",
			observability.String("key", key),
			observability.Error(err))
		_ = c.client.Del(ctx, c.resolveKey(key)).Err()
		return nil, ErrCacheMiss
	}

	GetCacheMetrics().hitsTotal.WithLabelValues("redis").Inc()
	span.SetAttributes(
		attribute.Bool("cache.hit", true),
		attribute.Int("cache.value_size", len(entry.Body)),
	)
	return &entry, nil
}

// Set implements Cache.
func (c *Redis) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 || entry == nil {
		return nil
	}

	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.Int("cache.value_size", len(entry.Body)),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues("redis", "set").Observe(time.Since(start).Seconds())
	}()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}

	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		return c.client.Set(ctx, c.resolveKey(key), data, ttl).Err()
	}, c.retryOptions("set", key))
	if err != nil {
		GetCacheMetrics().errorsTotal.WithLabelValues("redis", "set").Inc()
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// ClearRegion implements Cache. Keys are found with SCAN so the server
// is never blocked by a KEYS call.
func (c *Redis) ClearRegion(ctx context.Context, region string) (int, error) {
	ctx, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.ClearRegion",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.backend", "redis"),
			attribute.String("cache.region", region),
		),
	)
	defer span.End()

	pattern := escapeGlob(c.resolveKey(regionPrefix(region))) + "*"
	removed := 0
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			GetCacheMetrics().errorsTotal.WithLabelValues("redis", "clear").Inc()
			span.RecordError(err)
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				GetCacheMetrics().errorsTotal.WithLabelValues("redis", "clear").Inc()
				span.RecordError(err)
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	GetCacheMetrics().recordPurge("redis", region, removed)
	c.logger.Info("cache region cleared",
		observability.String("region", region),
		observability.Int("removed", removed))
	return removed, nil
}

// escapeGlob quotes the characters SCAN MATCH treats as patterns.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

var globEscaper = strings.NewReplacer(`\`, `\\`, "*", `\*`, "?", `\?`, "[", `\[`, "]", `\]`)

// Close closes the client.
func (c *Redis) Close() error {
	return c.client.Close()
}
