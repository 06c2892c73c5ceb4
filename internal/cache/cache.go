package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vyrodovalexey/routegw/internal/config"
	"github.com/vyrodovalexey/routegw/internal/observability"
)

// Common cache errors.
var (
	// ErrCacheMiss indicates that the key was not found or has expired.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidConfig indicates that the cache configuration is invalid.
	ErrInvalidConfig = errors.New("invalid cache configuration")
)

// cacheTracerName is the OpenTelemetry tracer name for cache operations.
const cacheTracerName = "routegw/cache"

// Entry is a cached downstream response.
type Entry struct {
	Status     int         `json:"status"`
	Header     http.Header `json:"header,omitempty"`
	Body       []byte      `json:"body,omitempty"`
	InsertedAt time.Time   `json:"insertedAt"`
	Region     string      `json:"region"`
}

// Cache is a response store. Implementations are safe for concurrent
// use and never return an entry at or after its TTL.
type Cache interface {
	// Get returns the entry for key or ErrCacheMiss.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set stores entry under key for ttl, replacing any previous entry.
	// A non-positive ttl stores nothing.
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// ClearRegion removes every entry of region and returns how many
	// were removed.
	ClearRegion(ctx context.Context, region string) (int, error)

	// Close releases resources held by the cache.
	Close() error
}

// New creates the cache backend selected by cfg.
func New(cfg config.CacheConfig, logger observability.Logger) (Cache, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}

	switch cfg.Type {
	case config.CacheMemory, "":
		return NewMemory(
			WithMaxEntries(cfg.MaxEntries),
			WithShards(cfg.Shards),
			WithSweepInterval(cfg.SweepInterval.Duration()),
			WithLogger(logger),
		), nil
	case config.CacheRedis:
		if cfg.Redis.Address == "" {
			return nil, fmt.Errorf("%w: redis address is required", ErrInvalidConfig)
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := pingRedis(client); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return NewRedis(client, cfg.Redis.KeyPrefix, logger), nil
	default:
		return nil, fmt.Errorf("%w: unknown cache type %q", ErrInvalidConfig, cfg.Type)
	}
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := *e
	c.Header = e.Header.Clone()
	if e.Body != nil {
		c.Body = append([]byte(nil), e.Body...)
	}
	return &c
}
