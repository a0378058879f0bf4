package subscription

import (
	"context"
	"time"
)

type Subscription struct {
	UserID       string
	TenantID     string
	Premium      bool
	PremiumUntil *time.Time
	UpdatedAt    time.Time
}

type Store interface {
	// Get returns nil, nil when the user has no subscription row.
	Get(ctx context.Context, userID string) (*Subscription, error)
	Upsert(ctx context.Context, sub *Subscription) error
	// ExpireOverdue flips premium off for every row whose end date has
	// passed and returns how many rows changed.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
	CountPremium(ctx context.Context) (int, error)
}
