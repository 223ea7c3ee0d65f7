// Package cache is a bounded in-memory key/value cache with per-entry TTL and
// least-recently-used eviction. It memoizes derived data only; losing it on
// restart costs a recomputation, nothing more.
package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"agriassist-prices/internal/metrics"
)

const (
	DefaultCapacity = 200
	DefaultTTL      = 60 * time.Minute

	// sweepThreshold is the fill ratio at which Set first drops expired entries.
	sweepThreshold = 0.8
)

type entry[V any] struct {
	value    V
	storedAt time.Time
	ttl      time.Duration
}

func (e entry[V]) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Cache maps string keys to values of type V.
type Cache[V any] struct {
	name       string
	capacity   int
	defaultTTL time.Duration

	mu  sync.Mutex
	lru *simplelru.LRU[string, entry[V]]
	now func() time.Time
}

// New returns an empty cache. name labels its metrics. Non-positive capacity
// or ttl fall back to the defaults.
func New[V any](name string, capacity int, defaultTTL time.Duration) *Cache[V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	// only fails for a non-positive size
	lru, _ := simplelru.NewLRU[string, entry[V]](capacity, nil)
	return &Cache[V]{
		name:       name,
		capacity:   capacity,
		defaultTTL: defaultTTL,
		lru:        lru,
		now:        time.Now,
	}
}

// Get returns the live value for key and marks it most recently used.
// An expired entry is removed and reported absent.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Peek(key)
	if !ok {
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		return zero, false
	}
	if e.expired(c.now()) {
		c.lru.Remove(key)
		metrics.CacheMisses.WithLabelValues(c.name).Inc()
		metrics.CacheEvictions.WithLabelValues(c.name, "expired").Inc()
		return zero, false
	}
	c.lru.Get(key)
	metrics.CacheHits.WithLabelValues(c.name).Inc()
	return e.value, true
}

// Set stores value under key. A non-positive ttl uses the cache default.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if !c.lru.Contains(key) {
		if float64(c.lru.Len()) >= sweepThreshold*float64(c.capacity) {
			c.sweep(now)
		}
		if c.lru.Len() >= c.capacity {
			if _, _, ok := c.lru.RemoveOldest(); ok {
				metrics.CacheEvictions.WithLabelValues(c.name, "lru").Inc()
			}
		}
	}
	c.lru.Add(key, entry[V]{value: value, storedAt: now, ttl: ttl})
}

// Delete removes key if present.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	c.lru.Remove(key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}

// Size sweeps expired entries and returns the number of live ones.
func (c *Cache[V]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweep(c.now())
	return c.lru.Len()
}

// Capacity returns the maximum number of entries.
func (c *Cache[V]) Capacity() int { return c.capacity }

// sweep removes expired entries. Caller holds mu.
func (c *Cache[V]) sweep(now time.Time) {
	for _, k := range c.lru.Keys() {
		if e, ok := c.lru.Peek(k); ok && e.expired(now) {
			c.lru.Remove(k)
			metrics.CacheEvictions.WithLabelValues(c.name, "expired").Inc()
		}
	}
}
