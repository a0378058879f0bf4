package tenant

import (
	"context"
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

const (
	StatusActive = "active"
	StatusBanned = "banned"
)

type Tenant struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// User is a Telegram account mapped into a tenant. Every user gets a
// personal tenant on first contact; team tenants share one.
type User struct {
	ID         string
	TenantID   string
	TelegramID int64
	Username   string
	FirstName  string
	Role       string
	Status     string
	CreatedAt  time.Time
}

// Channel is a Telegram chat the tenant publishes generated posts to.
type Channel struct {
	ID             string
	TenantID       string
	TelegramChatID int64
	Title          string
	CreatedAt      time.Time
}

type Store interface {
	// GetUserByTelegramID returns nil, nil when the account is unknown.
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error)
	CreateTenant(ctx context.Context, t *Tenant) error
	CreateUser(ctx context.Context, u *User) error
	UpdateUserRole(ctx context.Context, userID, role string) error
	UpdateUserStatus(ctx context.Context, userID, status string) error
	AddChannel(ctx context.Context, c *Channel) error
	ListChannels(ctx context.Context, tenantID string) ([]*Channel, error)
	InsertAudit(ctx context.Context, actorID, action, subjectID, detail string) error
}
