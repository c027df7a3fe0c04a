package services

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sink delivers payloads to stream connections. Send reports whether
// the payload was accepted for delivery.
type Sink interface {
	Send(connID string, payload []byte) bool
}

// FanoutService pushes fresh quotes to subscribed connections on every
// scheduler tick. Each watched symbol is handled independently so one
// bad ticker cannot stall or hide the rest.
type FanoutService struct {
	registry *SubscriptionRegistry
	quotes   *QuoteService
	sink     Sink
}

// GlobalFanoutService is the process-wide fanout pipeline
var GlobalFanoutService *FanoutService

// InitFanoutService wires the fanout pipeline to its collaborators
func InitFanoutService(registry *SubscriptionRegistry, quotes *QuoteService, sink Sink) *FanoutService {
	GlobalFanoutService = NewFanoutService(registry, quotes, sink)
	return GlobalFanoutService
}

// NewFanoutService creates a fanout pipeline from its collaborators
func NewFanoutService(registry *SubscriptionRegistry, quotes *QuoteService, sink Sink) *FanoutService {
	return &FanoutService{
		registry: registry,
		quotes:   quotes,
		sink:     sink,
	}
}

// Tick refreshes every watched symbol and broadcasts the results.
// A tick with no subscriptions touches nothing upstream. Symbols are
// refreshed concurrently, with the quote service's coordinator pacing
// the upstream calls.
func (f *FanoutService) Tick(ctx context.Context) {
	symbols := f.registry.Symbols()
	if len(symbols) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, symbol := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			f.push(ctx, symbol)
		}(symbol)
	}
	wg.Wait()
}

// push refreshes one symbol and delivers it to its current subscribers.
// The subscriber list is resolved after the fetch so connections that
// arrived or left during the fetch are honored.
func (f *FanoutService) push(ctx context.Context, symbol string) {
	quote, err := f.quotes.GetQuote(ctx, symbol)
	if err != nil {
		log.Printf("Fanout fetch for %s failed: %v", symbol, err)
		return
	}

	payload := encodeMessage(map[string]interface{}{
		"type":      "quote_update",
		"symbol":    symbol,
		"data":      quote,
		"timestamp": time.Now().Format(time.RFC3339),
	})

	for _, connID := range f.registry.SubscribersOf(symbol) {
		f.sink.Send(connID, payload)
	}
}
