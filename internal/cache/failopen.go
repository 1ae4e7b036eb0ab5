package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/dmw2/shufflr/internal/metrics"
)

// Cache is the fail-open front the service layer talks to. Backing store
// errors are logged and metered but never surfaced: a broken store degrades
// Get to a miss and Set/Invalidate to no-ops, so callers just fall through to
// the upstream service.
type Cache struct {
	store   Store
	policy  TTLPolicy
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// New wraps a backing store with fail-open semantics. A nil store yields a
// cache where every lookup misses.
func New(store Store, policy TTLPolicy, logger *slog.Logger, rec *metrics.Recorder) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:   store,
		policy:  policy.withDefaults(),
		logger:  logger.With(slog.String("component", "cache")),
		metrics: rec,
	}
}

// TTLFor exposes the configured tier for a resource kind.
func (c *Cache) TTLFor(resource Resource) time.Duration {
	if c == nil {
		return 0
	}
	return c.policy.For(resource)
}

// Get returns the cached payload for key, or a miss. Expired entries miss
// identically to absent ones.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	if c == nil || c.store == nil {
		return nil, false
	}
	start := time.Now()
	entry, ok, err := c.store.Lookup(ctx, key)
	if err != nil {
		c.metrics.ObserveCache(metrics.CacheOperationGet, metrics.CacheError, time.Since(start))
		c.logger.Warn("cache lookup failed, treating as miss", slog.String("key", key), slog.Any("error", err))
		return nil, false
	}
	outcome := metrics.CacheMiss
	if ok {
		outcome = metrics.CacheHit
	}
	c.metrics.ObserveCache(metrics.CacheOperationGet, outcome, time.Since(start))
	if !ok {
		return nil, false
	}
	return entry.Value, true
}

// GetJSON decodes a cached payload into T. Decode failures count as misses so
// a schema change never wedges the cache.
func GetJSON[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var value T
	raw, ok := c.Get(ctx, key)
	if !ok {
		return value, false
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		if c != nil {
			c.logger.Warn("cache entry undecodable, treating as miss", slog.String("key", key), slog.Any("error", err))
		}
		return value, false
	}
	return value, true
}

// Set stores value under key for ttl. Non-positive TTLs skip the write.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil || c.store == nil || ttl <= 0 {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache value not serializable, skipping store", slog.String("key", key), slog.Any("error", err))
		return
	}
	now := time.Now().UTC()
	entry := Entry{Value: payload, StoredAt: now, ExpiresAt: now.Add(ttl)}

	start := time.Now()
	if err := c.store.Put(ctx, key, entry); err != nil {
		c.metrics.ObserveCache(metrics.CacheOperationSet, metrics.CacheError, time.Since(start))
		c.logger.Warn("cache store failed", slog.String("key", key), slog.Any("error", err))
		return
	}
	c.metrics.ObserveCache(metrics.CacheOperationSet, metrics.CacheStored, time.Since(start))
}

// Invalidate removes the named keys after a mutation of the underlying
// resource.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if c == nil || c.store == nil {
		return
	}
	start := time.Now()
	failed := false
	// Best effort per key: one failing delete must not leave the rest live.
	for _, key := range keys {
		if err := c.store.Delete(ctx, key); err != nil {
			failed = true
			c.logger.Warn("cache invalidate failed", slog.String("key", key), slog.Any("error", err))
		}
	}
	outcome := metrics.CacheDropped
	if failed {
		outcome = metrics.CacheError
	}
	c.metrics.ObserveCache(metrics.CacheOperationInvalidate, outcome, time.Since(start))
}

// InvalidatePrefix removes every key sharing the prefix.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	if c == nil || c.store == nil {
		return
	}
	start := time.Now()
	if err := c.store.DeletePrefix(ctx, prefix); err != nil {
		c.metrics.ObserveCache(metrics.CacheOperationInvalidate, metrics.CacheError, time.Since(start))
		c.logger.Warn("cache invalidate prefix failed", slog.String("prefix", prefix), slog.Any("error", err))
		return
	}
	c.metrics.ObserveCache(metrics.CacheOperationInvalidate, metrics.CacheDropped, time.Since(start))
}

// Close releases the backing store.
func (c *Cache) Close(ctx context.Context) error {
	if c == nil || c.store == nil {
		return nil
	}
	return c.store.Close(ctx)
}
