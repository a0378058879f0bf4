package billing

import (
	"context"
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

func (s *PostgresStore) LogEvent(ctx context.Context, ev *UsageEvent) error {
	query := `
		INSERT INTO usage_events (tenant_id, user_id, channel_id, provider, model, status, tokens_in, tokens_out, tokens_total, cost_usd, latency_ms, error_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		ev.TenantID, ev.UserID, ev.ChannelID, ev.Provider, ev.Model, ev.Status,
		ev.TokensIn, ev.TokensOut, ev.TokensTotal, ev.CostUSD, ev.LatencyMs, ev.ErrorCode,
	).Scan(&ev.ID, &ev.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to log usage event: %w", err)
	}

	return nil
}

func (s *PostgresStore) GetEventsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageEvent, error) {
	query := `
		SELECT id, tenant_id, user_id, channel_id, provider, model, status, tokens_in, tokens_out, tokens_total, cost_usd, latency_ms, error_code, created_at
		FROM usage_events
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, tenantID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage events: %w", err)
	}
	defer rows.Close()

	var events []*UsageEvent
	for rows.Next() {
		var e UsageEvent
		err := rows.Scan(
			&e.ID, &e.TenantID, &e.UserID, &e.ChannelID, &e.Provider, &e.Model, &e.Status,
			&e.TokensIn, &e.TokensOut, &e.TokensTotal, &e.CostUSD, &e.LatencyMs, &e.ErrorCode, &e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan usage event: %w", err)
		}
		events = append(events, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating usage events: %w", err)
	}

	return events, nil
}

func (s *PostgresStore) GetSpend(ctx context.Context, tenantID string, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM usage_events
		WHERE tenant_id = $1 AND created_at >= $2 AND created_at < $3 AND status IN ($4, $5)
	`
	var total float64
	err := s.db.QueryRow(ctx, query, tenantID, from, to, StatusSuccess, StatusFailed).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get tenant spend: %w", err)
	}

	return total, nil
}

func (s *PostgresStore) CreatePayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payments (tenant_id, user_id, provider, amount, currency, months, status, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		p.TenantID, p.UserID, p.Provider, p.Amount, p.Currency, p.Months, p.Status, p.Payload,
	).Scan(&p.ID, &p.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

func (s *PostgresStore) MarkPaymentPaid(ctx context.Context, id string) error {
	query := `
		UPDATE payments SET status = $1, paid_at = NOW() WHERE id = $2
	`
	tag, err := s.db.Exec(ctx, query, PaymentPaid, id)
	if err != nil {
		return fmt.Errorf("failed to mark payment paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s not found", id)
	}

	return nil
}
