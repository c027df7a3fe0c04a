package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func newTestFanout(p *fakeProvider, quoteTTL time.Duration) (*FanoutService, *SubscriptionRegistry, *fakeSink) {
	registry := NewSubscriptionRegistry()
	sink := newFakeSink()
	quotes := newTestQuoteService(p, quoteTTL)
	return NewFanoutService(registry, quotes, sink), registry, sink
}

func decodeUpdate(t *testing.T, payload []byte) map[string]interface{} {
	t.Helper()
	var msg map[string]interface{}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("broadcast payload is not JSON: %v", err)
	}
	return msg
}

func TestFanoutTickWithoutSubscriptionsTouchesNothing(t *testing.T) {
	p := newFakeProvider()
	fanout, _, _ := newTestFanout(p, time.Minute)

	fanout.Tick(context.Background())

	if got := p.totalCalls(); got != 0 {
		t.Fatalf("tick with no subscriptions made %d upstream calls", got)
	}
}

func TestFanoutDeliversToSubscribersOnly(t *testing.T) {
	p := newFakeProvider()
	fanout, registry, sink := newTestFanout(p, time.Minute)

	registry.Subscribe("conn-1", "AAPL")
	registry.Subscribe("conn-2", "MSFT")
	registry.Subscribe("conn-3", "AAPL")

	fanout.Tick(context.Background())

	for _, connID := range []string{"conn-1", "conn-3"} {
		msgs := sink.messages(connID)
		if len(msgs) != 1 {
			t.Fatalf("%s expected 1 update, got %d", connID, len(msgs))
		}
		msg := decodeUpdate(t, msgs[0])
		if msg["type"] != "quote_update" || msg["symbol"] != "AAPL" {
			t.Fatalf("%s got unexpected update %v", connID, msg)
		}
		data, ok := msg["data"].(map[string]interface{})
		if !ok || data["price"] == nil {
			t.Fatalf("%s update missing quote data: %v", connID, msg)
		}
		if msg["timestamp"] == nil {
			t.Fatalf("%s update missing timestamp: %v", connID, msg)
		}
	}

	msgs := sink.messages("conn-2")
	if len(msgs) != 1 {
		t.Fatalf("conn-2 expected 1 update, got %d", len(msgs))
	}
	if msg := decodeUpdate(t, msgs[0]); msg["symbol"] != "MSFT" {
		t.Fatalf("conn-2 got update for %v", msg["symbol"])
	}
}

func TestFanoutSymbolFailureIsIsolated(t *testing.T) {
	p := newFakeProvider()
	fanout, registry, sink := newTestFanout(p, time.Minute)

	registry.Subscribe("conn-1", "BROKEN")
	registry.Subscribe("conn-2", "AAPL")
	p.setFail("BROKEN", errors.New("upstream down"))

	fanout.Tick(context.Background())

	if msgs := sink.messages("conn-1"); len(msgs) != 0 {
		t.Fatalf("failed symbol should deliver nothing, got %d messages", len(msgs))
	}
	if msgs := sink.messages("conn-2"); len(msgs) != 1 {
		t.Fatalf("healthy symbol should still deliver, got %d messages", len(msgs))
	}
}

func TestFanoutServesFromCacheWithinTTL(t *testing.T) {
	p := newFakeProvider()
	fanout, registry, _ := newTestFanout(p, time.Minute)

	registry.Subscribe("conn-1", "AAPL")

	fanout.Tick(context.Background())
	fanout.Tick(context.Background())

	if got := p.callCount("AAPL"); got != 1 {
		t.Fatalf("second tick within TTL should hit cache, upstream calls %d", got)
	}
}

func TestFanoutResolvesSubscribersAtSendTime(t *testing.T) {
	p := newFakeProvider()
	fanout, registry, sink := newTestFanout(p, time.Minute)

	registry.Subscribe("conn-1", "AAPL")
	fanout.Tick(context.Background())

	// conn-1 leaves, conn-2 arrives between ticks
	registry.RemoveConnection("conn-1")
	registry.Subscribe("conn-2", "AAPL")

	fanout.Tick(context.Background())

	if msgs := sink.messages("conn-1"); len(msgs) != 1 {
		t.Fatalf("departed connection got %d updates, want 1", len(msgs))
	}
	if msgs := sink.messages("conn-2"); len(msgs) != 1 {
		t.Fatalf("new connection got %d updates, want 1", len(msgs))
	}
}

func TestFanoutSendFailureDoesNotStopOthers(t *testing.T) {
	p := newFakeProvider()
	fanout, registry, sink := newTestFanout(p, time.Minute)

	registry.Subscribe("conn-dead", "AAPL")
	registry.Subscribe("conn-live", "AAPL")
	sink.reject["conn-dead"] = true

	fanout.Tick(context.Background())

	if msgs := sink.messages("conn-live"); len(msgs) != 1 {
		t.Fatalf("live connection should receive the update, got %d", len(msgs))
	}
}
