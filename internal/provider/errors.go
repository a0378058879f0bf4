// Package provider holds the error taxonomy and retry policy shared by all
// external content and image API clients.
package provider

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrNotConfigured means the provider has no credentials and cannot be used.
var ErrNotConfigured = errors.New("provider not configured")

// AuthError means the credentials were rejected. Never retried.
type AuthError struct {
	Provider string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: invalid or unauthorized API key", e.Provider)
}

// RateLimitError means the provider signaled throttling. Not retried within
// a request; surfaced to the caller with a suggested wait when available.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration // zero when the provider gave no hint
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited, retry after %s", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// TransientError covers network failures, timeouts and 5xx responses.
type TransientError struct {
	Provider string
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FromStatus classifies a non-2xx HTTP response. retryAfter is the raw
// Retry-After header value, seconds form only.
func FromStatus(name string, status int, retryAfter string) error {
	switch {
	case status == 401 || status == 403:
		return &AuthError{Provider: name}
	case status == 429:
		var wait time.Duration
		if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
		return &RateLimitError{Provider: name, RetryAfter: wait}
	default:
		return &TransientError{Provider: name, Err: fmt.Errorf("unexpected status %d", status)}
	}
}

func IsAuth(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

func IsRateLimit(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}

func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
