// Package images orchestrates image acquisition: cache lookup, then an
// ordered provider fallback chain, then cache population on success.
package images

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/vnmchuo/content-bot/internal/imagesearch"
	"github.com/vnmchuo/content-bot/internal/provider"
)

// Reasons returned alongside an empty result. Callers branch on these to
// pick the right user-facing message.
const (
	ReasonNotConfigured = "no image providers configured"
	ReasonRateLimited   = "image providers rate limited, try again later"
	ReasonNoResults     = "no images found"
)

// Cache is the slice of the TTL cache the fetcher needs.
type Cache interface {
	Get(ctx context.Context, key string) ([]string, bool)
	Put(ctx context.Context, key string, urls []string) error
}

type Fetcher struct {
	providers []imagesearch.Provider // fixed priority order, never reordered
	breakers  map[string]*gobreaker.CircuitBreaker
	cache     Cache
}

func NewFetcher(cache Cache, providers ...imagesearch.Provider) *Fetcher {
	breakers := make(map[string]*gobreaker.CircuitBreaker)
	for _, p := range providers {
		settings := gobreaker.Settings{
			Name:        p.Name(),
			MaxRequests: 3,
			Interval:    5 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}
		breakers[p.Name()] = gobreaker.NewCircuitBreaker(settings)
	}
	return &Fetcher{
		providers: providers,
		breakers:  breakers,
		cache:     cache,
	}
}

// Search returns image URLs for keyword plus an empty reason, or an empty
// slice plus one of the Reason constants when nothing could be fetched.
// Providers are tried in order; the first one returning at least one URL
// wins and the rest are never called. Per-provider retries happen inside
// provider.Retry; the chain itself runs at most once per request.
func (f *Fetcher) Search(ctx context.Context, keyword string, maxResults int) ([]string, string) {
	if urls, ok := f.cache.Get(ctx, keyword); ok && len(urls) > 0 {
		if len(urls) > maxResults {
			urls = urls[:maxResults]
		}
		log.Debug().Str("keyword", keyword).Int("count", len(urls)).Msg("image cache hit")
		return urls, ""
	}

	anyConfigured := false
	rateLimited := false

	for _, p := range f.providers {
		if !p.Configured() {
			continue
		}
		anyConfigured = true

		cb := f.breakers[p.Name()]
		if cb.State() == gobreaker.StateOpen {
			log.Debug().Str("provider", p.Name()).Msg("circuit breaker open, skipping provider")
			continue
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return provider.Retry(ctx, func() ([]string, error) {
				return p.Search(ctx, keyword, maxResults)
			})
		})
		if err != nil {
			if provider.IsRateLimit(err) {
				rateLimited = true
			}
			log.Warn().Err(err).Str("provider", p.Name()).Str("keyword", keyword).Msg("image provider failed")
			continue
		}

		urls := result.([]string)
		if len(urls) == 0 {
			// Not a failure: move on to the next provider.
			log.Debug().Str("provider", p.Name()).Str("keyword", keyword).Msg("no results from provider")
			continue
		}

		if putErr := f.cache.Put(ctx, keyword, urls); putErr != nil {
			log.Warn().Err(putErr).Str("keyword", keyword).Msg("failed to cache image urls")
		}
		log.Info().Str("provider", p.Name()).Str("keyword", keyword).Int("count", len(urls)).Msg("fetched images")
		return urls, ""
	}

	if !anyConfigured {
		return nil, ReasonNotConfigured
	}
	if rateLimited {
		return nil, ReasonRateLimited
	}
	return nil, ReasonNoResults
}

// FetchImage is the single-image convenience wrapper used when attaching an
// illustration to a post.
func (f *Fetcher) FetchImage(ctx context.Context, keyword string) (string, string) {
	urls, reason := f.Search(ctx, keyword, 1)
	if len(urls) == 0 {
		return "", reason
	}
	return urls[0], ""
}
