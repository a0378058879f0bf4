package tenant

import (
	"context"
	"fmt"
	"testing"
)

type mockStore struct {
	users    map[int64]*User
	tenants  int
	audits   []string
	roles    map[string]string
	statuses map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{
		users:    make(map[int64]*User),
		roles:    make(map[string]string),
		statuses: make(map[string]string),
	}
}

func (m *mockStore) GetUserByTelegramID(ctx context.Context, telegramID int64) (*User, error) {
	u, ok := m.users[telegramID]
	if !ok {
		return nil, nil
	}
	return u, nil
}

func (m *mockStore) CreateTenant(ctx context.Context, t *Tenant) error {
	m.tenants++
	t.ID = fmt.Sprintf("tenant-%d", m.tenants)
	return nil
}

func (m *mockStore) CreateUser(ctx context.Context, u *User) error {
	u.ID = fmt.Sprintf("user-%d", len(m.users)+1)
	m.users[u.TelegramID] = u
	return nil
}

func (m *mockStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	m.roles[userID] = role
	return nil
}

func (m *mockStore) UpdateUserStatus(ctx context.Context, userID, status string) error {
	m.statuses[userID] = status
	return nil
}

func (m *mockStore) AddChannel(ctx context.Context, c *Channel) error { return nil }

func (m *mockStore) ListChannels(ctx context.Context, tenantID string) ([]*Channel, error) {
	return nil, nil
}

func (m *mockStore) InsertAudit(ctx context.Context, actorID, action, subjectID, detail string) error {
	m.audits = append(m.audits, action)
	return nil
}

func TestResolveRegistersNewUser(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)

	u, err := svc.Resolve(context.Background(), 42, "alice", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.TenantID == "" {
		t.Error("expected new user to get a tenant")
	}
	if u.Role != RoleUser || u.Status != StatusActive {
		t.Errorf("expected default role and status, got %q %q", u.Role, u.Status)
	}
	if len(store.audits) != 1 || store.audits[0] != "user_registered" {
		t.Errorf("expected registration audit record, got %v", store.audits)
	}
}

func TestResolveReturnsExistingUser(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)

	first, err := svc.Resolve(context.Background(), 42, "alice", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.Resolve(context.Background(), 42, "alice", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID || first.TenantID != second.TenantID {
		t.Errorf("expected same user on repeat resolve, got %v and %v", first, second)
	}
	if store.tenants != 1 {
		t.Errorf("expected one tenant created, got %d", store.tenants)
	}
}

func TestSetRoleValidates(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)

	if err := svc.SetRole(context.Background(), "admin-1", "user-1", "superuser"); err == nil {
		t.Error("expected unknown role to be rejected")
	}
	if err := svc.SetRole(context.Background(), "admin-1", "user-1", RoleAdmin); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.roles["user-1"] != RoleAdmin {
		t.Error("expected role persisted")
	}
	if len(store.audits) != 1 || store.audits[0] != "role_changed" {
		t.Errorf("expected role change audited, got %v", store.audits)
	}
}

func TestSetStatusBan(t *testing.T) {
	store := newMockStore()
	svc := NewService(store)

	if err := svc.SetStatus(context.Background(), "admin-1", "user-1", StatusBanned); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.statuses["user-1"] != StatusBanned {
		t.Error("expected status persisted")
	}
}
