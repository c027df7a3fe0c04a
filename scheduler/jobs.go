package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"stockstream/config"
	"stockstream/services"
)

// Scheduler manages scheduled jobs
type Scheduler struct {
	cron   *gocron.Scheduler
	fanout *services.FanoutService
	cache  services.QuoteCache
}

// NewScheduler creates a new scheduler instance
func NewScheduler(fanout *services.FanoutService, cache services.QuoteCache) *Scheduler {
	return &Scheduler{
		cron:   gocron.NewScheduler(time.UTC),
		fanout: fanout,
		cache:  cache,
	}
}

// Start starts all scheduled jobs
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	interval := config.AppConfig.FanoutIntervalSec

	// Push fresh quotes to subscribed stream clients. SingletonMode
	// keeps a slow tick from overlapping the next one.
	s.cron.Every(interval).Seconds().SingletonMode().Do(func() {
		s.runFanout()
	})

	// Sweep expired entries when the cache runs in-process. MongoDB
	// expires its own documents through the TTL index.
	if memCache, ok := s.cache.(*services.MemoryCache); ok {
		s.cron.Every(1).Minute().Do(func() {
			if removed := memCache.PurgeExpired(); removed > 0 {
				log.Printf("Cache janitor removed %d expired entries", removed)
			}
		})
	}

	s.cron.StartAsync()
	log.Printf("Scheduler started, fanout every %d seconds", interval)
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runFanout runs one fanout pass, bounded so a stuck upstream cannot
// pile ticks up behind it
func (s *Scheduler) runFanout() {
	ctx, cancel := context.WithTimeout(context.Background(), config.AppConfig.FanoutInterval())
	defer cancel()
	s.fanout.Tick(ctx)
}
