package billing

import (
	"context"
	"time"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusBlocked = "blocked"
)

const (
	PaymentPending = "pending"
	PaymentPaid    = "paid"
)

// UsageEvent is one billable (or blocked) generation attempt. Blocked
// events carry zero cost and an ErrorCode explaining the refusal.
type UsageEvent struct {
	ID          string
	TenantID    string
	UserID      string
	ChannelID   string
	Provider    string
	Model       string
	Status      string
	TokensIn    int
	TokensOut   int
	TokensTotal int
	CostUSD     float64
	LatencyMs   int64
	ErrorCode   string
	CreatedAt   time.Time
}

type Payment struct {
	ID        string
	TenantID  string
	UserID    string
	Provider  string
	Amount    float64
	Currency  string
	Months    int
	Status    string
	Payload   string
	CreatedAt time.Time
	PaidAt    *time.Time
}

type Store interface {
	LogEvent(ctx context.Context, ev *UsageEvent) error
	GetEventsByTenant(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageEvent, error)
	// GetSpend sums cost over success and failed events: failed attempts
	// still consumed provider tokens, blocked ones never reached a provider.
	GetSpend(ctx context.Context, tenantID string, from, to time.Time) (float64, error)
	CreatePayment(ctx context.Context, p *Payment) error
	MarkPaymentPaid(ctx context.Context, id string) error
}
