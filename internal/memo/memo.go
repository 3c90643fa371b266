// Package memo provides a concurrent get-or-compute-once cache. Values are
// computed at most once per key and never invalidated, which suits metadata
// derived from immutable compiled types.
package memo

import (
	"sync/atomic"

	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/singleflight"
)

// Cache memoizes values of type V by key K. The zero value is not usable;
// create caches with New.
type Cache[K comparable, V any] struct {
	values cmap.ConcurrentMap[K, V]
	group  singleflight.Group
	keyStr func(K) string

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache. hash shards keys across the map and keyStr names a
// key for in-flight deduplication; keyStr must be injective.
func New[K comparable, V any](hash func(K) uint32, keyStr func(K) string) *Cache[K, V] {
	return &Cache[K, V]{
		values: cmap.NewWithCustomShardingFunction[K, V](hash),
		keyStr: keyStr,
	}
}

// NewString creates a cache keyed by strings.
func NewString[V any]() *Cache[string, V] {
	return New[string, V](StringHash, func(s string) string { return s })
}

// Get returns the cached value for key, computing it with compute on the
// first request. Concurrent callers for the same key share one computation.
// Errors are returned to every waiting caller and are not cached.
func (c *Cache[K, V]) Get(key K, compute func() (V, error)) (V, error) {
	if v, ok := c.values.Get(key); ok {
		c.hits.Add(1)
		return v, nil
	}

	res, err, _ := c.group.Do(c.keyStr(key), func() (any, error) {
		// Another flight may have finished between the lookup and Do.
		if v, ok := c.values.Get(key); ok {
			return v, nil
		}
		c.misses.Add(1)
		v, err := compute()
		if err != nil {
			return v, err
		}
		// First writer wins so that every reader observes one value.
		c.values.SetIfAbsent(key, v)
		stored, _ := c.values.Get(key)
		return stored, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return res.(V), nil
}

// MustGet is Get for computations that cannot fail.
func (c *Cache[K, V]) MustGet(key K, compute func() V) V {
	v, _ := c.Get(key, func() (V, error) { return compute(), nil })
	return v
}

// Peek returns the cached value without computing it.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.values.Get(key)
}

// Len returns the number of cached values.
func (c *Cache[K, V]) Len() int {
	return c.values.Count()
}

// Stats returns the hit and miss counters.
func (c *Cache[K, V]) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
