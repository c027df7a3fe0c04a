package services

import (
	"context"
	"testing"
	"time"
)

func TestMemoryCacheSetGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "stock_data:AAPL", []byte(`{"price":150}`), time.Minute)

	value, ok := c.Get(ctx, "stock_data:AAPL")
	if !ok {
		t.Fatal("expected cache hit")
	}
	if string(value) != `{"price":150}` {
		t.Fatalf("unexpected value %q", value)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache()

	if _, ok := c.Get(context.Background(), "stock_data:NOPE"); ok {
		t.Fatal("expected cache miss for unknown key")
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "stock_data:AAPL", []byte("fresh"), 50*time.Millisecond)

	if _, ok := c.Get(ctx, "stock_data:AAPL"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(80 * time.Millisecond)

	if _, ok := c.Get(ctx, "stock_data:AAPL"); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestMemoryCacheOverwrite(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("old"), time.Minute)
	c.Set(ctx, "k", []byte("new"), time.Minute)

	value, ok := c.Get(ctx, "k")
	if !ok || string(value) != "new" {
		t.Fatalf("expected overwritten value, got %q ok=%v", value, ok)
	}
}

func TestMemoryCacheNonpositiveTTLRemoves(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	c.Set(ctx, "k", []byte("v"), 0)

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatal("expected entry removed by nonpositive TTL")
	}
}

func TestMemoryCachePurgeExpired(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()

	c.Set(ctx, "stale-1", []byte("a"), 10*time.Millisecond)
	c.Set(ctx, "stale-2", []byte("b"), 10*time.Millisecond)
	c.Set(ctx, "live", []byte("c"), time.Minute)

	time.Sleep(30 * time.Millisecond)

	if removed := c.PurgeExpired(); removed != 2 {
		t.Fatalf("expected 2 purged entries, got %d", removed)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 remaining entry, got %d", c.Len())
	}
	if _, ok := c.Get(ctx, "live"); !ok {
		t.Fatal("live entry should survive the purge")
	}
}

func TestCacheKeys(t *testing.T) {
	if got := QuoteCacheKey("AAPL"); got != "stock_data:AAPL" {
		t.Fatalf("unexpected quote key %q", got)
	}
	if got := HistoryCacheKey("AAPL", "1mo"); got != "stock_data:AAPL:1mo" {
		t.Fatalf("unexpected history key %q", got)
	}
}
