// Package ingest provides the resilient market-data ingestion layer:
// a short-TTL cache, pull-based fetches gated by circuit breakers and
// rate limiters, and reconnecting push subscriptions.
package ingest

import (
	"sync"
	"time"

	"oanda-trader/internal/models"
)

type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
}

// Cache is a process-local TTL cache. A hit short-circuits the rate
// limiter and circuit breaker entirely.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache with the given default TTL.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached value for key if present and unexpired.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set stores value under key with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL.
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key from the cache.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Prune removes expired entries. Called periodically by the stream task.
func (c *Cache) Prune() {
	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()
}

// Len returns the number of entries, including any not yet pruned.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

const priceKeyPrefix = "price:"

// SetPrice stores the latest price update for its symbol.
func (c *Cache) SetPrice(update models.PriceUpdate) {
	c.Set(priceKeyPrefix+update.Symbol, update)
}

// Price returns the latest unexpired price update for symbol.
func (c *Cache) Price(symbol string) (models.PriceUpdate, bool) {
	v, ok := c.Get(priceKeyPrefix + symbol)
	if !ok {
		return models.PriceUpdate{}, false
	}
	update, ok := v.(models.PriceUpdate)
	return update, ok
}
