// Package cache provides the default settings.Cache, an in-process
// read-through cache on jellydator/ttlcache.
package cache

import (
	"context"
	"sync"

	"github.com/jellydator/ttlcache/v3"

	settings "github.com/goliatone/go-settings"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "settings."

type loaded struct {
	value *string
	err   error
}

// TTLCache implements settings.Cache. Entries never expire; they are dropped
// by Forget or, when a capacity is set, by eviction.
type TTLCache struct {
	cache  *ttlcache.Cache[string, string]
	prefix string

	// mu orders loader stores against Forget and Flush. forgets counts
	// invalidations; a load only stores if none happened while it ran.
	mu      sync.Mutex
	forgets uint64
}

// Option configures a TTLCache.
type Option func(*config)

type config struct {
	prefix   string
	capacity uint64
}

// WithPrefix prefixes every cache key.
func WithPrefix(prefix string) Option {
	return func(c *config) {
		c.prefix = prefix
	}
}

// WithCapacity bounds the number of cached values.
func WithCapacity(capacity uint64) Option {
	return func(c *config) {
		c.capacity = capacity
	}
}

// New builds an empty cache.
func New(opts ...Option) *TTLCache {
	cfg := config{prefix: DefaultPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cacheOpts := []ttlcache.Option[string, string]{
		ttlcache.WithTTL[string, string](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	}
	if cfg.capacity > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, string](cfg.capacity))
	}
	return &TTLCache{
		cache:  ttlcache.New(cacheOpts...),
		prefix: cfg.prefix,
	}
}

// RememberForever returns the cached value for key or runs producer on a miss.
// Only found values are stored; absent values and producer errors are never
// cached.
//
// A Forget or Flush that lands while producer runs means the loaded value may
// already be stale, so it is returned to the caller but not stored.
func (c *TTLCache) RememberForever(ctx context.Context, key string, producer settings.Producer) (string, bool, error) {
	var result loaded
	loader := ttlcache.LoaderFunc[string, string](
		func(cache *ttlcache.Cache[string, string], k string) *ttlcache.Item[string, string] {
			c.mu.Lock()
			seen := c.forgets
			c.mu.Unlock()

			value, found, err := producer(ctx)
			if err != nil || !found {
				result.err = err
				return nil
			}

			c.mu.Lock()
			defer c.mu.Unlock()
			if c.forgets != seen {
				result.value = &value
				return nil
			}
			return cache.Set(k, value, ttlcache.DefaultTTL)
		},
	)
	item := c.cache.Get(c.prefix+key, ttlcache.WithLoader[string, string](loader))
	if item != nil {
		return item.Value(), true, nil
	}
	if result.value != nil {
		return *result.value, true, nil
	}
	return "", false, result.err
}

// Forget drops the cached value for key.
func (c *TTLCache) Forget(_ context.Context, key string) error {
	c.mu.Lock()
	c.forgets++
	c.cache.Delete(c.prefix + key)
	c.mu.Unlock()
	return nil
}

// Len reports the number of cached values.
func (c *TTLCache) Len() int {
	return c.cache.Len()
}

// Prefix returns the key prefix.
func (c *TTLCache) Prefix() string {
	return c.prefix
}

// Flush drops every cached value.
func (c *TTLCache) Flush() {
	c.mu.Lock()
	c.forgets++
	c.cache.DeleteAll()
	c.mu.Unlock()
}
