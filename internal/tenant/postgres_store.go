package tenant

import (
	"context"
	"errors"
	"fmt"

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

func (s *PostgresStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	query := `
		SELECT id, tenant_id, telegram_id, username, first_name, role, status, created_at
		FROM users
		WHERE telegram_id = $1
	`
	var u User
	err := s.db.QueryRow(ctx, query, telegramID).Scan(
		&u.ID, &u.TenantID, &u.TelegramID, &u.Username, &u.FirstName, &u.Role, &u.Status, &u.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	return &u, nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, t *Tenant) error {
	query := `
		INSERT INTO tenants (name)
		VALUES ($1)
		RETURNING id, created_at
	`
	if err := s.db.QueryRow(ctx, query, t.Name).Scan(&t.ID, &t.CreatedAt); err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}

	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *User) error {
	query := `
		INSERT INTO users (tenant_id, telegram_id, username, first_name, role, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query,
		u.TenantID, u.TelegramID, u.Username, u.FirstName, u.Role, u.Status,
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET role = $1 WHERE id = $2`, role, userID)
	if err != nil {
		return fmt.Errorf("failed to update user role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", userID)
	}

	return nil
}

func (s *PostgresStore) UpdateUserStatus(ctx context.Context, userID, status string) error {
	tag, err := s.db.Exec(ctx, `UPDATE users SET status = $1 WHERE id = $2`, status, userID)
	if err != nil {
		return fmt.Errorf("failed to update user status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s not found", userID)
	}

	return nil
}

func (s *PostgresStore) AddChannel(ctx context.Context, c *Channel) error {
	query := `
		INSERT INTO channels (tenant_id, telegram_chat_id, title)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`
	err := s.db.QueryRow(ctx, query, c.TenantID, c.TelegramChatID, c.Title).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add channel: %w", err)
	}

	return nil
}

func (s *PostgresStore) ListChannels(ctx context.Context, tenantID string) ([]*Channel, error) {
	query := `
		SELECT id, tenant_id, telegram_chat_id, title, created_at
		FROM channels
		WHERE tenant_id = $1
		ORDER BY created_at
	`
	rows, err := s.db.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channels: %w", err)
	}
	defer rows.Close()

	var channels []*Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.ID, &c.TenantID, &c.TelegramChatID, &c.Title, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel: %w", err)
		}
		channels = append(channels, &c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channels: %w", err)
	}

	return channels, nil
}

func (s *PostgresStore) InsertAudit(ctx context.Context, actorID, action, subjectID, detail string) error {
	query := `
		INSERT INTO audit_log (actor_id, action, subject_id, detail)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.Exec(ctx, query, actorID, action, subjectID, detail); err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}

	return nil
}
