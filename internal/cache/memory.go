package cache

import (
	"container/list"
	"context"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/vyrodovalexey/routegw/internal/observability"
)

const (
	defaultMaxEntries = 10000
	defaultShards     = 16
)

// Memory is an in-memory LRU cache split into independently locked
// shards. Expired entries are dropped when read; an optional sweep
// bounds memory held by entries nobody reads again.
type Memory struct {
	shards        []*memoryShard
	now           func() time.Time
	logger        observability.Logger
	sweepInterval time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

type memoryShard struct {
	mu       sync.Mutex
	capacity int
	items    map[string]*list.Element
	eviction *list.List
}

type memoryEntry struct {
	key       string
	entry     *Entry
	expiresAt time.Time
}

// MemoryOption configures Memory.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	maxEntries    int
	shards        int
	sweepInterval time.Duration
	now           func() time.Time
	logger        observability.Logger
}

// WithMaxEntries bounds the number of entries across all shards.
func WithMaxEntries(n int) MemoryOption {
	return func(o *memoryOptions) { o.maxEntries = n }
}

// WithShards sets the number of shards.
func WithShards(n int) MemoryOption {
	return func(o *memoryOptions) { o.shards = n }
}

// WithSweepInterval enables a background sweep of expired entries.
func WithSweepInterval(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.sweepInterval = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) MemoryOption {
	return func(o *memoryOptions) { o.logger = logger }
}

// NewMemory creates an in-memory cache.
func NewMemory(opts ...MemoryOption) *Memory {
	o := memoryOptions{
		maxEntries: defaultMaxEntries,
		shards:     defaultShards,
		now:        time.Now,
		logger:     observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxEntries <= 0 {
		o.maxEntries = defaultMaxEntries
	}
	if o.shards <= 0 {
		o.shards = defaultShards
	}
	if o.shards > o.maxEntries {
		o.shards = o.maxEntries
	}

	perShard := (o.maxEntries + o.shards - 1) / o.shards
	c := &Memory{
		shards:        make([]*memoryShard, o.shards),
		now:           o.now,
		logger:        o.logger,
		sweepInterval: o.sweepInterval,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &memoryShard{
			capacity: perShard,
			items:    make(map[string]*list.Element),
			eviction: list.New(),
		}
	}

	if c.sweepInterval > 0 {
		go c.sweepLoop()
	} else {
		close(c.doneCh)
	}

	c.logger.Info("memory cache initialized",
		observability.Int("maxEntries", o.maxEntries),
		observability.Int("shards", o.shards),
		observability.Duration("sweepInterval", o.sweepInterval))

	return c
}

func (c *Memory) shard(key string) *memoryShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Get implements Cache.
func (c *Memory) Get(ctx context.Context, key string) (*Entry, error) {
	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Get",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
		),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		GetCacheMetrics().operationDuration.WithLabelValues("memory", "get").Observe(time.Since(start).Seconds())
	}()

	s := c.shard(key)
	s.mu.Lock()
	elem, ok := s.items[key]
	if ok {
		me := elem.Value.(*memoryEntry)
		if !c.now().Before(me.expiresAt) {
			s.remove(elem)
			ok = false
		} else {
			s.eviction.MoveToFront(elem)
			entry := me.entry
			s.mu.Unlock()

			GetCacheMetrics().hitsTotal.WithLabelValues("memory").Inc()
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return entry, nil
		}
	}
	s.mu.Unlock()

	GetCacheMetrics().missesTotal.WithLabelValues("memory").Inc()
	span.SetAttributes(attribute.Bool("cache.hit", false))
	return nil, ErrCacheMiss
}

// Set implements Cache.
func (c *Memory) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	if ttl <= 0 || entry == nil {
		return nil
	}

	_, span := otel.Tracer(cacheTracerName).Start(ctx, "cache.Set",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("cache.backend", "memory"),
			attribute.Int("cache.value_size", len(entry.Body)),
		),
	)
	defer span.End()

	me := &memoryEntry{key: key, entry: entry, expiresAt: c.now().Add(ttl)}

	s := c.shard(key)
	s.mu.Lock()
	if elem, ok := s.items[key]; ok {
		elem.Value = me
		s.eviction.MoveToFront(elem)
		s.mu.Unlock()
		return nil
	}
	s.items[key] = s.eviction.PushFront(me)
	evicted := 0
	for s.eviction.Len() > s.capacity {
		s.remove(s.eviction.Back())
		evicted++
	}
	s.mu.Unlock()

	if evicted > 0 {
		GetCacheMetrics().evictionsTotal.WithLabelValues("memory").Add(float64(evicted))
	}
	GetCacheMetrics().sizeGauge.WithLabelValues("memory").Set(float64(c.Len()))
	return nil
}

// ClearRegion implements Cache.
func (c *Memory) ClearRegion(_ context.Context, region string) (int, error) {
	prefix := regionPrefix(region)
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for key, elem := range s.items {
			if strings.HasPrefix(key, prefix) {
				s.remove(elem)
				removed++
			}
		}
		s.mu.Unlock()
	}

	GetCacheMetrics().sizeGauge.WithLabelValues("memory").Set(float64(c.Len()))
	GetCacheMetrics().recordPurge("memory", region, removed)
	c.logger.Info("cache region cleared",
		observability.String("region", region),
		observability.Int("removed", removed))
	return removed, nil
}

// Len returns the number of stored entries, expired ones included.
func (c *Memory) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.eviction.Len()
		s.mu.Unlock()
	}
	return n
}

// Close stops the sweep and drops every entry.
func (c *Memory) Close() error {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	<-c.doneCh

	for _, s := range c.shards {
		s.mu.Lock()
		s.items = make(map[string]*list.Element)
		s.eviction.Init()
		s.mu.Unlock()
	}
	return nil
}

func (c *Memory) sweepLoop() {
	defer close(c.doneCh)

	ticker := time.NewTicker(c.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopCh:
			return
		}
	}
}

// sweep removes expired entries from every shard.
func (c *Memory) sweep() int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for elem := s.eviction.Back(); elem != nil; {
			prev := elem.Prev()
			if !now.Before(elem.Value.(*memoryEntry).expiresAt) {
				s.remove(elem)
				removed++
			}
			elem = prev
		}
		s.mu.Unlock()
	}

	if removed > 0 {
		GetCacheMetrics().sizeGauge.WithLabelValues("memory").Set(float64(c.Len()))
		c.logger.Debug("cache sweep completed",
			observability.Int("removed", removed))
	}
	return removed
}

// remove must be called with the shard lock held.
func (s *memoryShard) remove(elem *list.Element) {
	s.eviction.Remove(elem)
	delete(s.items, elem.Value.(*memoryEntry).key)
}
