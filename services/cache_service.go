package services

import (
	"context"
	"log"
	"sync"
	"time"

	"stockstream/config"
)

// QuoteCache sits in front of the upstream provider. Get returns absent
// for missing or expired entries, Set is best effort: backend failures
// are logged and swallowed so callers never see cache errors.
type QuoteCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Close(ctx context.Context) error
}

// Cache key prefixes shared by the REST and stream paths
const (
	QuoteKeyPrefix  = "stock_data:"
	IndicesCacheKey = "market_indices"
)

// QuoteCacheKey returns the cache key for a symbol's realtime quote
func QuoteCacheKey(symbol string) string {
	return QuoteKeyPrefix + symbol
}

// HistoryCacheKey returns the cache key for a symbol's history over a period
func HistoryCacheKey(symbol, period string) string {
	return QuoteKeyPrefix + symbol + ":" + period
}

// GlobalQuoteCache is the cache backend selected at startup
var GlobalQuoteCache QuoteCache

// InitQuoteCache selects the cache backend exactly once. A configured and
// reachable MongoDB wins, anything else falls back to the in-process cache.
// The choice is never revisited while the process runs.
func InitQuoteCache() error {
	uri := config.AppConfig.MongoDBURI
	if uri != "" {
		mongoCache, err := NewMongoCache(uri)
		if err != nil {
			log.Printf("MongoDB cache unavailable, using in-memory cache: %v", err)
		} else {
			GlobalQuoteCache = mongoCache
			log.Println("Quote cache backed by MongoDB")
			return nil
		}
	}

	GlobalQuoteCache = NewMemoryCache()
	log.Println("Quote cache running in-memory")
	return nil
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is the in-process cache backend
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache creates an empty in-process cache
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]cacheEntry),
	}
}

// Get returns the cached value, treating expired entries as absent.
// Expired entries are left in place for the janitor to sweep.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value with a TTL. A nonpositive TTL removes the entry.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
}

// PurgeExpired removes expired entries and reports how many were dropped
func (c *MemoryCache) PurgeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of live and expired entries currently held
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close is a no-op for the in-process backend
func (c *MemoryCache) Close(_ context.Context) error {
	return nil
}
