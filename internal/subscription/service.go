package subscription

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// A month of premium is a fixed 30 days regardless of calendar length.
const daysPerMonth = 30

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Activate grants months of premium and returns the new end date. An
// active subscription is extended from its current end, not from now, so
// renewing early never costs the user remaining days.
func (s *Service) Activate(ctx context.Context, userID, tenantID string, months int) (time.Time, error) {
	if months < 1 {
		return time.Time{}, fmt.Errorf("invalid subscription length: %d months", months)
	}

	now := s.now().UTC()
	base := now
	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		return time.Time{}, fmt.Errorf("activate subscription: %w", err)
	}
	if sub != nil && sub.Premium && sub.PremiumUntil != nil && sub.PremiumUntil.After(now) {
		base = *sub.PremiumUntil
	}

	until := base.AddDate(0, 0, months*daysPerMonth)
	err = s.store.Upsert(ctx, &Subscription{
		UserID:       userID,
		TenantID:     tenantID,
		Premium:      true,
		PremiumUntil: &until,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("activate subscription: %w", err)
	}

	log.Info().Str("user_id", userID).Int("months", months).Time("until", until).Msg("subscription activated")
	return until, nil
}

// IsPremium reports the user's current premium state. A row whose end
// date has passed is corrected to non-premium on read, so staleness never
// outlives the first check.
func (s *Service) IsPremium(ctx context.Context, userID string) (bool, error) {
	sub, err := s.store.Get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("check premium: %w", err)
	}
	if sub == nil || !sub.Premium {
		return false, nil
	}
	if sub.PremiumUntil != nil && !sub.PremiumUntil.After(s.now().UTC()) {
		sub.Premium = false
		if err := s.store.Upsert(ctx, sub); err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("failed to persist expired subscription")
		}
		return false, nil
	}

	return true, nil
}

// SweepExpired is the batch counterpart of the per-read correction in
// IsPremium, run periodically by the background worker.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.store.ExpireOverdue(ctx, s.now().UTC())
}

func (s *Service) CountPremium(ctx context.Context) (int, error) {
	return s.store.CountPremium(ctx)
}
