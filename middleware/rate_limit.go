package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestCount tracks API requests from a client IP
type RequestCount struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter manages per-IP request limiting over a fixed window
type RateLimiter struct {
	mu           sync.RWMutex
	counts       map[string]*RequestCount
	maxRequests  int
	windowPeriod time.Duration
}

// Global rate limiter instance
var apiRateLimiter *RateLimiter

// InitAPIRateLimiter initializes the global API rate limiter
func InitAPIRateLimiter() {
	apiRateLimiter = NewRateLimiter(120, time.Minute)
	// Start cleanup goroutine
	go apiRateLimiter.startCleanup()
}

// NewRateLimiter creates a new rate limiter
// maxRequests: requests allowed within the window
// windowPeriod: time window for counting requests
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		counts:       make(map[string]*RequestCount),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
	}
}

// startCleanup periodically cleans up old entries
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
	for range ticker.C {
		rl.cleanup()
	}
}

// cleanup removes entries whose window has passed
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for ip, count := range rl.counts {
		if now.Sub(count.FirstAt) > rl.windowPeriod {
			delete(rl.counts, ip)
		}
	}
}

// Allow records a request and reports whether it fits in the window.
// It also returns the remaining allowance and, once the limit is hit,
// how long until the window resets.
func (rl *RateLimiter) Allow(ip string) (bool, int, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	count, exists := rl.counts[ip]

	if !exists || now.Sub(count.FirstAt) > rl.windowPeriod {
		rl.counts[ip] = &RequestCount{Count: 1, FirstAt: now}
		return true, rl.maxRequests - 1, 0
	}

	if count.Count >= rl.maxRequests {
		return false, 0, rl.windowPeriod - now.Sub(count.FirstAt)
	}

	count.Count++
	return true, rl.maxRequests - count.Count, 0
}

// APIRateLimitMiddleware limits REST requests per client IP
func APIRateLimitMiddleware() gin.HandlerFunc {
	// Ensure rate limiter is initialized
	if apiRateLimiter == nil {
		InitAPIRateLimiter()
	}

	return func(c *gin.Context) {
		ip := c.ClientIP()
		allowed, remaining, retryAfter := apiRateLimiter.Allow(ip)

		// Set headers for client awareness
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Too many requests, please slow down",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
