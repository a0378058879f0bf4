// Package worker runs the periodic maintenance loop: evicting stale cache
// rows and expiring overdue subscriptions.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

type Sweepable interface {
	Sweep(ctx context.Context) (int64, error)
}

type SubscriptionSweeper interface {
	SweepExpired(ctx context.Context) (int64, error)
}

type Sweeper struct {
	interval time.Duration
	caches   map[string]Sweepable
	subs     SubscriptionSweeper
}

func NewSweeper(interval time.Duration, subs SubscriptionSweeper) *Sweeper {
	return &Sweeper{
		interval: interval,
		caches:   make(map[string]Sweepable),
		subs:     subs,
	}
}

// AddCache registers a cache store under a name used in log output.
func (s *Sweeper) AddCache(name string, cache Sweepable) {
	s.caches[name] = cache
}

// Run blocks until ctx is cancelled, sweeping once per interval. The
// first sweep happens after one full interval, not at startup.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("sweeper stopped")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	for name, cache := range s.caches {
		removed, err := cache.Sweep(ctx)
		if err != nil {
			log.Warn().Err(err).Str("cache", name).Msg("cache sweep failed")
			continue
		}
		if removed > 0 {
			log.Info().Str("cache", name).Int64("removed", removed).Msg("swept expired cache entries")
		}
	}

	if s.subs != nil {
		expired, err := s.subs.SweepExpired(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("subscription sweep failed")
			return
		}
		if expired > 0 {
			log.Info().Int64("expired", expired).Msg("expired overdue subscriptions")
		}
	}
}
