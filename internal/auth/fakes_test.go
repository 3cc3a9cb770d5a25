package auth

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/models"
)

type memUsers struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.User
}

func newMemUsers() *memUsers { return &memUsers{byID: map[uuid.UUID]*models.User{}} }

func (m *memUsers) Create(_ context.Context, u *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if (u.Email != nil && existing.Email != nil && *u.Email == *existing.Email) ||
			(u.Phone != nil && existing.Phone != nil && *u.Phone == *existing.Phone) {
			return apperr.Conflict("A user with this email or phone already exists")
		}
	}
	u.ID = uuid.New()
	u.IsActive = true
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) GetByIdentifier(_ context.Context, identifier string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if (u.Email != nil && *u.Email == identifier) || (u.Phone != nil && *u.Phone == identifier) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUsers) UpdateLastLogin(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		u.LastLoginAt = &at
	}
	return nil
}

func (m *memUsers) setActive(id uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[id].IsActive = active
}

type memSessions struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*models.Session
}

func newMemSessions() *memSessions { return &memSessions{byID: map[uuid.UUID]*models.Session{}} }

func (m *memSessions) Create(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[s.ID]; ok {
		return apperr.Conflict("Session already exists")
	}
	s.CreatedAt = time.Now()
	s.LastActiveAt = s.CreatedAt
	cp := *s
	m.byID[s.ID] = &cp
	return nil
}

func (m *memSessions) GetByID(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) ListActiveByUser(_ context.Context, userID uuid.UUID, now time.Time) ([]*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Session
	for _, s := range m.byID {
		if s.UserID == userID && s.Active(now) {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (m *memSessions) Revoke(_ context.Context, userID, sessionID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok || s.UserID != userID {
		return false, nil
	}
	s.Revoked = true
	return true, nil
}

func (m *memSessions) RevokeAllByUser(_ context.Context, userID, except uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for id, s := range m.byID {
		if s.UserID == userID && !s.Revoked && id != except {
			s.Revoked = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memSessions) RotateRefresh(_ context.Context, sessionID uuid.UUID, oldJti string, tenantID *uuid.UUID, newJti, newHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.byID[sessionID]
	if !ok || s.Revoked || s.RefreshJti != oldJti || !time.Now().Before(s.ExpiresAt) {
		return false, nil
	}
	s.RefreshJti, s.RefreshTokenHash, s.TenantID = newJti, newHash, tenantID
	return true, nil
}

func (m *memSessions) revoked(id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[id].Revoked
}

func (m *memSessions) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type memTenants struct {
	mu          sync.Mutex
	tenants     map[uuid.UUID]*models.Tenant
	memberships map[[2]uuid.UUID]*models.Membership
}

func newMemTenants() *memTenants {
	return &memTenants{tenants: map[uuid.UUID]*models.Tenant{}, memberships: map[[2]uuid.UUID]*models.Membership{}}
}

func (m *memTenants) add(name string, userID uuid.UUID, role models.Role) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.New()
	m.tenants[id] = &models.Tenant{ID: id, Name: name, Slug: name}
	m.memberships[[2]uuid.UUID{userID, id}] = &models.Membership{UserID: userID, TenantID: id, Role: role, IsActive: true}
	return id
}

func (m *memTenants) setActive(userID, tenantID uuid.UUID, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memberships[[2]uuid.UUID{userID, tenantID}].IsActive = active
}

func (m *memTenants) GetByID(_ context.Context, id uuid.UUID) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *memTenants) GetMembership(_ context.Context, userID, tenantID uuid.UUID) (*models.Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.memberships[[2]uuid.UUID{userID, tenantID}]
	if !ok {
		return nil, nil
	}
	cp := *ms
	return &cp, nil
}

func (m *memTenants) ListForUser(_ context.Context, userID uuid.UUID) ([]models.TenantMembership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.TenantMembership{}
	for k, ms := range m.memberships {
		if k[0] == userID && ms.IsActive {
			out = append(out, models.TenantMembership{Tenant: *m.tenants[k[1]], Role: ms.Role})
		}
	}
	return out, nil
}

type recordedEvents struct {
	mu      sync.Mutex
	revoked map[uuid.UUID][]uuid.UUID
}

func newRecordedEvents() *recordedEvents {
	return &recordedEvents{revoked: map[uuid.UUID][]uuid.UUID{}}
}

func (r *recordedEvents) SessionsRevoked(_ context.Context, userID uuid.UUID, ids []uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.revoked[userID] = append(r.revoked[userID], ids...)
}

func (r *recordedEvents) forUser(userID uuid.UUID) []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revoked[userID]
}
