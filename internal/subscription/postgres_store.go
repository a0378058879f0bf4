package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) Store {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, userID string) (*Subscription, error) {
	query := `
		SELECT user_id, tenant_id, premium, premium_until, updated_at
		FROM subscriptions
		WHERE user_id = $1
	`
	var sub Subscription
	err := s.db.QueryRow(ctx, query, userID).Scan(
		&sub.UserID, &sub.TenantID, &sub.Premium, &sub.PremiumUntil, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}

	return &sub, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, sub *Subscription) error {
	query := `
		INSERT INTO subscriptions (user_id, tenant_id, premium, premium_until, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET premium = EXCLUDED.premium, premium_until = EXCLUDED.premium_until, updated_at = NOW()
	`
	_, err := s.db.Exec(ctx, query, sub.UserID, sub.TenantID, sub.Premium, sub.PremiumUntil)
	if err != nil {
		return fmt.Errorf("failed to upsert subscription: %w", err)
	}

	return nil
}

func (s *PostgresStore) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE subscriptions
		SET premium = FALSE, updated_at = NOW()
		WHERE premium = TRUE AND premium_until IS NOT NULL AND premium_until < $1
	`
	tag, err := s.db.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire subscriptions: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (s *PostgresStore) CountPremium(ctx context.Context) (int, error) {
	query := `SELECT COUNT(*) FROM subscriptions WHERE premium = TRUE`
	var n int
	if err := s.db.QueryRow(ctx, query).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count premium subscriptions: %w", err)
	}

	return n, nil
}
