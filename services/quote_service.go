package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"stockstream/config"
	"stockstream/services/provider"
)

// trendingSymbols backs the trending endpoint
var trendingSymbols = []string{"AAPL", "GOOGL", "MSFT", "AMZN", "TSLA"}

// QuoteService is the read-through path in front of the upstream
// provider. Every lookup checks the cache first, then funnels the miss
// through the coordinator so duplicate and bursty fetches collapse.
type QuoteService struct {
	cache      QuoteCache
	coord      *RequestCoordinator
	provider   provider.Client
	quoteTTL   time.Duration
	historyTTL time.Duration
}

// GlobalQuoteService is the process-wide quote service
var GlobalQuoteService *QuoteService

// InitQuoteService wires the cache, coordinator and upstream client
func InitQuoteService() error {
	if GlobalQuoteCache == nil {
		if err := InitQuoteCache(); err != nil {
			return fmt.Errorf("failed to initialize quote cache: %w", err)
		}
	}

	cfg := config.AppConfig
	GlobalQuoteService = NewQuoteService(
		GlobalQuoteCache,
		NewRequestCoordinator(cfg.ProviderSpacing()),
		provider.NewYahooClient(cfg.ProviderBaseURL),
		cfg.QuoteTTL(),
		cfg.HistoryTTL(),
	)
	return nil
}

// NewQuoteService creates a quote service from its collaborators
func NewQuoteService(cache QuoteCache, coord *RequestCoordinator, client provider.Client, quoteTTL, historyTTL time.Duration) *QuoteService {
	return &QuoteService{
		cache:      cache,
		coord:      coord,
		provider:   client,
		quoteTTL:   quoteTTL,
		historyTTL: historyTTL,
	}
}

// GetQuote returns the current quote for a symbol, serving from cache
// when fresh and fetching upstream otherwise
func (s *QuoteService) GetQuote(ctx context.Context, symbol string) (*provider.Quote, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}

	key := QuoteCacheKey(symbol)
	var quote provider.Quote
	if err := s.lookup(ctx, key, &quote, s.quoteTTL, func(ctx context.Context) ([]byte, error) {
		fetched, err := s.provider.GetQuote(ctx, symbol)
		if err != nil {
			return nil, err
		}
		return json.Marshal(fetched)
	}); err != nil {
		return nil, err
	}
	return &quote, nil
}

// GetIndices returns quotes for the major market indices
func (s *QuoteService) GetIndices(ctx context.Context) ([]provider.Quote, error) {
	var indices []provider.Quote
	if err := s.lookup(ctx, IndicesCacheKey, &indices, s.quoteTTL, func(ctx context.Context) ([]byte, error) {
		fetched, err := s.provider.GetIndices(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(fetched)
	}); err != nil {
		return nil, err
	}
	return indices, nil
}

// GetHistory returns daily candles for a symbol over a period
func (s *QuoteService) GetHistory(ctx context.Context, symbol, period string) ([]provider.Candle, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("empty symbol")
	}
	if period == "" {
		period = "1mo"
	}
	if !provider.HistoryPeriods[period] {
		return nil, fmt.Errorf("invalid period %q", period)
	}

	key := HistoryCacheKey(symbol, period)
	var candles []provider.Candle
	if err := s.lookup(ctx, key, &candles, s.historyTTL, func(ctx context.Context) ([]byte, error) {
		fetched, err := s.provider.GetHistory(ctx, symbol, period)
		if err != nil {
			return nil, err
		}
		return json.Marshal(fetched)
	}); err != nil {
		return nil, err
	}
	return candles, nil
}

// GetTrending returns quotes for the trending watchlist. Symbols that
// fail to resolve are skipped.
func (s *QuoteService) GetTrending(ctx context.Context) ([]provider.Quote, error) {
	quotes := make([]provider.Quote, 0, len(trendingSymbols))
	for _, symbol := range trendingSymbols {
		quote, err := s.GetQuote(ctx, symbol)
		if err != nil {
			log.Printf("Failed to fetch trending symbol %s: %v", symbol, err)
			continue
		}
		quotes = append(quotes, *quote)
	}

	if len(quotes) == 0 {
		return nil, fmt.Errorf("no trending data available")
	}
	return quotes, nil
}

// lookup is the shared read-through: cache hit wins, otherwise the
// fetch is deduplicated and rate limited by the coordinator and the
// result cached. Errors pass through uncached.
func (s *QuoteService) lookup(ctx context.Context, key string, out interface{}, ttl time.Duration, fetch func(ctx context.Context) ([]byte, error)) error {
	if data, ok := s.cache.Get(ctx, key); ok {
		if err := json.Unmarshal(data, out); err == nil {
			return nil
		}
		log.Printf("Discarding unreadable cache entry %s", key)
	}

	data, err := s.coord.Fetch(ctx, key, fetch)
	if err != nil {
		return err
	}

	s.cache.Set(ctx, key, data, ttl)
	return json.Unmarshal(data, out)
}
