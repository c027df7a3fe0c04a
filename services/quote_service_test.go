package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"stockstream/services/provider"
)

var errUpstreamDown = errors.New("upstream down")

// fakeProvider is a scriptable stand-in for the upstream client. Each
// successful quote carries the call count in its price so tests can
// tell cached data from fresh data.
type fakeProvider struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		calls: make(map[string]int),
		fail:  make(map[string]error),
	}
}

func (p *fakeProvider) setFail(key string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.fail, key)
		return
	}
	p.fail[key] = err
}

func (p *fakeProvider) callCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[key]
}

func (p *fakeProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

func (p *fakeProvider) GetQuote(_ context.Context, symbol string) (*provider.Quote, error) {
	p.mu.Lock()
	p.calls[symbol]++
	n := p.calls[symbol]
	err := p.fail[symbol]
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return &provider.Quote{
		Symbol:        symbol,
		Price:         100 + float64(n),
		Change:        1.25,
		ChangePercent: 1.26,
		Volume:        1000,
		Timestamp:     time.Now().Format(time.RFC3339),
	}, nil
}

func (p *fakeProvider) GetIndices(_ context.Context) ([]provider.Quote, error) {
	p.mu.Lock()
	p.calls["indices"]++
	err := p.fail["indices"]
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return []provider.Quote{
		{Symbol: "^GSPC", Name: "S&P 500", Price: 5000},
		{Symbol: "^DJI", Name: "Dow Jones", Price: 40000},
	}, nil
}

func (p *fakeProvider) GetHistory(_ context.Context, symbol, period string) ([]provider.Candle, error) {
	key := fmt.Sprintf("history:%s:%s", symbol, period)
	p.mu.Lock()
	p.calls[key]++
	err := p.fail[key]
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return []provider.Candle{
		{Date: "2026-08-20", Open: 99, High: 102, Low: 98, Close: 101, Volume: 500},
		{Date: "2026-08-21", Open: 101, High: 104, Low: 100, Close: 103, Volume: 600},
	}, nil
}

// fakeSink records every payload handed to it
type fakeSink struct {
	mu     sync.Mutex
	sent   map[string][][]byte
	reject map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		sent:   make(map[string][][]byte),
		reject: make(map[string]bool),
	}
}

func (s *fakeSink) Send(connID string, payload []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject[connID] {
		return false
	}
	s.sent[connID] = append(s.sent[connID], payload)
	return true
}

func (s *fakeSink) messages(connID string) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent[connID]))
	copy(out, s.sent[connID])
	return out
}

func newTestQuoteService(p provider.Client, quoteTTL time.Duration) *QuoteService {
	return NewQuoteService(NewMemoryCache(), NewRequestCoordinator(0), p, quoteTTL, time.Minute)
}

func TestQuoteServiceCachesQuotes(t *testing.T) {
	p := newFakeProvider()
	s := newTestQuoteService(p, time.Minute)
	ctx := context.Background()

	first, err := s.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("first GetQuote failed: %v", err)
	}
	second, err := s.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("second GetQuote failed: %v", err)
	}

	if got := p.callCount("AAPL"); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
	if first.Price != second.Price {
		t.Fatalf("second call should serve cached quote, got %v then %v", first.Price, second.Price)
	}
}

func TestQuoteServiceExpiryRefetches(t *testing.T) {
	p := newFakeProvider()
	s := newTestQuoteService(p, 50*time.Millisecond)
	ctx := context.Background()

	first, err := s.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("first GetQuote failed: %v", err)
	}

	time.Sleep(80 * time.Millisecond)

	second, err := s.GetQuote(ctx, "AAPL")
	if err != nil {
		t.Fatalf("second GetQuote failed: %v", err)
	}

	if got := p.callCount("AAPL"); got != 2 {
		t.Fatalf("expected refetch after expiry, upstream calls %d", got)
	}
	if first.Price == second.Price {
		t.Fatal("expected fresh quote after expiry")
	}
}

func TestQuoteServiceNormalizesSymbol(t *testing.T) {
	p := newFakeProvider()
	s := newTestQuoteService(p, time.Minute)
	ctx := context.Background()

	if _, err := s.GetQuote(ctx, "  aapl "); err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}
	if _, err := s.GetQuote(ctx, "AAPL"); err != nil {
		t.Fatalf("GetQuote failed: %v", err)
	}

	if got := p.callCount("AAPL"); got != 1 {
		t.Fatalf("case variants should share one cache entry, upstream calls %d", got)
	}
}

func TestQuoteServiceErrorNotCached(t *testing.T) {
	p := newFakeProvider()
	s := newTestQuoteService(p, time.Minute)
	ctx := context.Background()

	p.setFail("TSLA", errors.New("upstream down"))
	if _, err := s.GetQuote(ctx, "TSLA"); err == nil {
		t.Fatal("expected error from failing upstream")
	}

	p.setFail("TSLA", nil)
	quote, err := s.GetQuote(ctx, "TSLA")
	if err != nil {
		t.Fatalf("expected recovery after upstream failure: %v", err)
	}
	if quote.Symbol != "TSLA" {
		t.Fatalf("unexpected quote %+v", quote)
	}
	if got := p.callCount("TSLA"); got != 2 {
		t.Fatalf("failure should not be cached, upstream calls %d", got)
	}
}

func TestQuoteServiceEmptySymbol(t *testing.T) {
	s := newTestQuoteService(newFakeProvider(), time.Minute)

	if _, err := s.GetQuote(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty symbol")
	}
}

func TestQuoteServiceIndicesCached(t *testing.T) {
	p := newFakeProvider()
	s := newTestQuoteService(p, time.Minute)
	ctx := context.Background()

	indices, err := s.GetIndices(ctx)
	if err != nil {
		t.Fatalf("GetIndices failed: %v", err)
	}
	if len(indices) != 2 {
		t.Fatalf("expected 2 indices, got %d", len(indices))
	}

	if _, err := s.GetIndices(ctx); err != nil {
		t.Fatalf("second GetIndices failed: %v", err)
	}
	if got := p.callCount("indices"); got != 1 {
		t.Fatalf("expected cached indices, upstream calls %d", got)
	}
}

func TestQuoteServiceHistory(t *testing.T) {
	p := newFakeProvider()
	s := newTestQuoteService(p, time.Minute)
	ctx := context.Background()

	candles, err := s.GetHistory(ctx, "AAPL", "1mo")
	if err != nil {
		t.Fatalf("GetHistory failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}

	if _, err := s.GetHistory(ctx, "AAPL", "1mo"); err != nil {
		t.Fatalf("second GetHistory failed: %v", err)
	}
	if got := p.callCount("history:AAPL:1mo"); got != 1 {
		t.Fatalf("expected cached history, upstream calls %d", got)
	}

	if _, err := s.GetHistory(ctx, "AAPL", "17years"); err == nil {
		t.Fatal("expected error for invalid period")
	}
}

func TestQuoteServiceTrendingSkipsFailures(t *testing.T) {
	p := newFakeProvider()
	s := newTestQuoteService(p, time.Minute)

	p.setFail("MSFT", errors.New("upstream down"))

	quotes, err := s.GetTrending(context.Background())
	if err != nil {
		t.Fatalf("GetTrending failed: %v", err)
	}
	if len(quotes) != len(trendingSymbols)-1 {
		t.Fatalf("expected %d quotes, got %d", len(trendingSymbols)-1, len(quotes))
	}
	for _, quote := range quotes {
		if quote.Symbol == "MSFT" {
			t.Fatal("failed symbol should be skipped")
		}
	}
}
