package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	// MaxAttempts bounds retries of a single provider call.
	MaxAttempts = 3

	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Retry runs op up to MaxAttempts times with jittered exponential backoff
// between attempts. Only transient errors are retried; auth errors, rate
// limits and anything else abort immediately. A timeout counts as transient
// when the client classified it so.
func Retry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialBackoff
	b.MaxInterval = maxBackoff

	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(MaxAttempts))
}
