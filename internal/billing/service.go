package billing

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type BudgetStatus struct {
	Allowed    bool
	ShouldWarn bool
	SpendUSD   float64
	HardLimit  *float64
	WarnLimit  *float64
}

// Service wraps the usage store with budget enforcement. Limits are
// optional: a nil limit means unlimited spend for that threshold.
type Service struct {
	store     Store
	pricing   Pricing
	hardLimit *float64
	warnLimit *float64

	mu         sync.Mutex
	lastWarned map[string]string // tenant ID -> UTC date of last warning
	now        func() time.Time
}

func NewService(store Store, pricing Pricing, hardLimit, warnLimit *float64) *Service {
	return &Service{
		store:      store,
		pricing:    pricing,
		hardLimit:  hardLimit,
		warnLimit:  warnLimit,
		lastWarned: make(map[string]string),
		now:        time.Now,
	}
}

func (s *Service) Pricing() Pricing {
	return s.pricing
}

// RecordEvent persists the event before the caller replies, so the ledger
// never lags behind delivered content.
func (s *Service) RecordEvent(ctx context.Context, ev *UsageEvent) error {
	if ev.Status == StatusBlocked {
		ev.CostUSD = 0
	}
	if err := s.store.LogEvent(ctx, ev); err != nil {
		return fmt.Errorf("record usage event: %w", err)
	}
	return nil
}

// CheckBudget reports whether the tenant may spend more this calendar
// month (UTC). The window covers success and failed events; blocked
// events never count. Spend is always reported, and the warn threshold
// is evaluated independently of the hard limit.
func (s *Service) CheckBudget(ctx context.Context, tenantID string) (BudgetStatus, error) {
	status := BudgetStatus{Allowed: true, HardLimit: s.hardLimit, WarnLimit: s.warnLimit}

	from, to := MonthWindow(s.now().UTC())
	spend, err := s.store.GetSpend(ctx, tenantID, from, to)
	if err != nil {
		return status, fmt.Errorf("check budget: %w", err)
	}
	status.SpendUSD = spend

	if s.hardLimit != nil && spend >= *s.hardLimit {
		status.Allowed = false
	}
	if s.warnLimit != nil && spend >= *s.warnLimit {
		status.ShouldWarn = true
	}

	return status, nil
}

// MonthSpend returns the tenant's spend for the current UTC calendar month.
func (s *Service) MonthSpend(ctx context.Context, tenantID string) (float64, error) {
	from, to := MonthWindow(s.now().UTC())
	return s.store.GetSpend(ctx, tenantID, from, to)
}

func (s *Service) Events(ctx context.Context, tenantID string, from, to time.Time) ([]*UsageEvent, error) {
	return s.store.GetEventsByTenant(ctx, tenantID, from, to)
}

// RecordPayment stores a completed subscription purchase. The row is
// created pending and flipped to paid immediately; the two states exist
// so an external payment callback flow can reuse the same table.
func (s *Service) RecordPayment(ctx context.Context, tenantID, userID string, months int, amount float64, currency, payload string) (*Payment, error) {
	if currency == "" {
		currency = "USD"
	}
	p := &Payment{
		TenantID: tenantID,
		UserID:   userID,
		Provider: "telegram",
		Amount:   amount,
		Currency: currency,
		Months:   months,
		Status:   PaymentPending,
		Payload:  payload,
	}
	if err := s.store.CreatePayment(ctx, p); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	if err := s.store.MarkPaymentPaid(ctx, p.ID); err != nil {
		return nil, fmt.Errorf("record payment: %w", err)
	}
	p.Status = PaymentPaid
	return p, nil
}

// ShouldSendWarning returns true at most once per tenant per UTC day and
// marks the day as warned. State is in-memory only, so a restart may
// repeat a warning; that is acceptable for an advisory notice.
func (s *Service) ShouldSendWarning(tenantID string) bool {
	today := s.now().UTC().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastWarned[tenantID] == today {
		return false
	}
	s.lastWarned[tenantID] = today
	return true
}

// MonthWindow returns the half-open UTC interval [1st of this month, 1st
// of next month) containing t.
func MonthWindow(t time.Time) (time.Time, time.Time) {
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}
