package tenant

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Resolve returns the user for a Telegram account, registering it on
// first contact. New users get a personal tenant and start as a regular
// active member.
func (s *Service) Resolve(ctx context.Context, telegramID int64, username, firstName string) (*User, error) {
	u, err := s.store.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if u != nil {
		return u, nil
	}

	t := &Tenant{Name: fmt.Sprintf("tg-%d", telegramID)}
	if err := s.store.CreateTenant(ctx, t); err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}

	u = &User{
		TenantID:   t.ID,
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		Role:       RoleUser,
		Status:     StatusActive,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("resolve user: %w", err)
	}
	if err := s.store.InsertAudit(ctx, u.ID, "user_registered", u.ID, username); err != nil {
		log.Warn().Err(err).Str("user_id", u.ID).Msg("failed to audit registration")
	}

	log.Info().Str("user_id", u.ID).Str("tenant_id", t.ID).Int64("telegram_id", telegramID).Msg("registered new user")
	return u, nil
}

func (s *Service) SetRole(ctx context.Context, actorID, userID, role string) error {
	if role != RoleUser && role != RoleAdmin {
		return fmt.Errorf("unknown role %q", role)
	}
	if err := s.store.UpdateUserRole(ctx, userID, role); err != nil {
		return err
	}
	return s.store.InsertAudit(ctx, actorID, "role_changed", userID, role)
}

func (s *Service) SetStatus(ctx context.Context, actorID, userID, status string) error {
	if status != StatusActive && status != StatusBanned {
		return fmt.Errorf("unknown status %q", status)
	}
	if err := s.store.UpdateUserStatus(ctx, userID, status); err != nil {
		return err
	}
	return s.store.InsertAudit(ctx, actorID, "status_changed", userID, status)
}

func (s *Service) AddChannel(ctx context.Context, c *Channel) error {
	return s.store.AddChannel(ctx, c)
}

func (s *Service) ListChannels(ctx context.Context, tenantID string) ([]*Channel, error) {
	return s.store.ListChannels(ctx, tenantID)
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

func (u *User) IsBanned() bool {
	return u.Status == StatusBanned
}
