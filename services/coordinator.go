package services

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// RequestCoordinator funnels every upstream call through one gate.
// Concurrent requests for the same key collapse into a single upstream
// call, and distinct calls start at least the configured spacing apart.
type RequestCoordinator struct {
	group   singleflight.Group
	spacing time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewRequestCoordinator creates a coordinator with the given minimum
// spacing between upstream call starts. A nonpositive spacing disables
// rate limiting but keeps deduplication.
func NewRequestCoordinator(spacing time.Duration) *RequestCoordinator {
	return &RequestCoordinator{spacing: spacing}
}

// Fetch executes fn once for all concurrent callers of the same key.
// The winning call reserves a single rate-limit slot, so N deduplicated
// callers cost one upstream request. Every caller receives the shared
// result or the shared error. Nothing is retained once the call
// finishes: a failed key can be retried immediately.
func (rc *RequestCoordinator) Fetch(ctx context.Context, key string, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	value, err, _ := rc.group.Do(key, func() (interface{}, error) {
		if err := rc.waitTurn(ctx); err != nil {
			return nil, err
		}
		return fn(ctx)
	})
	if err != nil {
		return nil, err
	}
	return value.([]byte), nil
}

// waitTurn reserves the next start slot and sleeps until it arrives.
// Slots are handed out in arrival order, spaced by the configured
// minimum, so upstream calls may overlap but never start closer
// together than the spacing.
func (rc *RequestCoordinator) waitTurn(ctx context.Context) error {
	if rc.spacing <= 0 {
		return nil
	}

	rc.mu.Lock()
	slot := rc.next
	if now := time.Now(); slot.Before(now) {
		slot = now
	}
	rc.next = slot.Add(rc.spacing)
	rc.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		// The slot stays reserved, a cancelled waiter just leaves a gap
		return ctx.Err()
	}
}
