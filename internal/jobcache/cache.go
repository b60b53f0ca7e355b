// Package jobcache holds job CSV bodies and their derived row lookups in
// process memory. Entries expire a fixed time after they are written and the
// least recently read entry is dropped when the cache is full.
package jobcache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/notify/internal/metrics"
	"github.com/lalithlochan/notify/internal/redis"
)

const (
	DefaultTTL        = 7 * 24 * time.Hour
	DefaultMaxEntries = 20000
)

// Counter is the shared store the hit and miss totals are kept in.
// Every worker process increments the same keys.
type Counter interface {
	Incr(ctx context.Context, key string) (int64, error)
}

// Entry is a cached value and the moment it stops being served.
type Entry struct {
	Value     any
	ExpiresAt time.Time
}

// Config controls cache bounds.
type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// Cache is safe for concurrent use.
type Cache struct {
	items   *ttlcache.Cache[string, any]
	counter Counter
	logger  *zap.Logger
	ttl     time.Duration

	stopEvictions func()
}

// New creates a job cache. A nil counter disables hit/miss accounting.
func New(cfg Config, counter Counter, logger *zap.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}

	// Reads must not push the expiry out: an entry lives TTL from its write.
	items := ttlcache.New[string, any](
		ttlcache.WithTTL[string, any](cfg.TTL),
		ttlcache.WithCapacity[string, any](uint64(cfg.MaxEntries)),
		ttlcache.WithDisableTouchOnHit[string, any](),
	)

	c := &Cache{
		items:   items,
		counter: counter,
		logger:  logger,
		ttl:     cfg.TTL,
	}

	c.stopEvictions = items.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, any]) {
		switch reason {
		case ttlcache.EvictionReasonExpired:
			metrics.RecordJobCacheEviction("expired")
		case ttlcache.EvictionReasonCapacityReached:
			metrics.RecordJobCacheEviction("capacity")
			logger.Debug("job cache full, evicted least recently used entry",
				zap.String("key", item.Key()),
			)
		default:
			metrics.RecordJobCacheEviction("deleted")
		}
	})

	return c
}

// Get returns the live entry for key. Expired entries are never returned.
// Each call records a hit or a miss in the shared counter store; a counter
// failure is logged and does not affect the lookup.
func (c *Cache) Get(ctx context.Context, key string) (Entry, bool) {
	return c.lookup(ctx, key, true)
}

// lookup is Get with an optional miss count. Derived lookups skip it because
// a miss there falls through to the job body, which counts once.
func (c *Cache) lookup(ctx context.Context, key string, countMiss bool) (Entry, bool) {
	item := c.items.Get(key)
	if item == nil || !item.ExpiresAt().After(time.Now()) {
		if countMiss {
			c.count(ctx, redis.JobsCacheMissesKey, false)
		}
		return Entry{}, false
	}

	c.count(ctx, redis.JobsCacheHitsKey, true)
	return Entry{Value: item.Value(), ExpiresAt: item.ExpiresAt()}, true
}

// Set stores value under key, replacing any previous entry and restarting
// its TTL.
func (c *Cache) Set(key string, value any) {
	c.items.Set(key, value, ttlcache.DefaultTTL)
	metrics.SetJobCacheEntries(c.items.Len())
}

// Delete drops key if present.
func (c *Cache) Delete(key string) {
	c.items.Delete(key)
	metrics.SetJobCacheEntries(c.items.Len())
}

// Clean evicts every expired entry and reports how many were removed.
// Reads and writes may continue while it runs.
func (c *Cache) Clean() int {
	before := c.items.Len()
	c.items.DeleteExpired()
	after := c.items.Len()
	metrics.SetJobCacheEntries(after)

	removed := before - after
	if removed < 0 {
		removed = 0
	}
	return removed
}

// Len returns the number of stored entries, including expired ones not yet
// cleaned.
func (c *Cache) Len() int {
	return c.items.Len()
}

// TTL is the lifetime given to every entry.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Close detaches the eviction hook and empties the cache.
func (c *Cache) Close() {
	if c.stopEvictions != nil {
		c.stopEvictions()
	}
	c.items.DeleteAll()
}

func (c *Cache) count(ctx context.Context, key string, hit bool) {
	metrics.RecordJobCacheLookup(hit)
	if c.counter == nil {
		return
	}
	if _, err := c.counter.Incr(ctx, key); err != nil {
		c.logger.Warn("failed to record job cache lookup",
			zap.String("counter", key),
			zap.Error(err),
		)
	}
}
