package tenants

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/models"
	"github.com/threadline-erp/backend/internal/validation"
)

// Store is the tenant persistence the service depends on.
type Store interface {
	CreateWithOwner(ctx context.Context, t *models.Tenant, ownerID uuid.UUID) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error)
	AddMember(ctx context.Context, tenantID, userID uuid.UUID, role models.Role) error
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.TenantMembership, error)
	ListMembers(ctx context.Context, tenantID uuid.UUID) ([]models.Member, error)
	Deactivate(ctx context.Context, tenantID, userID uuid.UUID) (bool, error)
}

// UserFinder resolves an email or phone to a user. Returns (nil, nil) when unknown.
type UserFinder interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
}

// CanAssign reports whether a member with role actor may grant role target.
// OWNER may grant any role, ADMIN only MANAGER or EMPLOYEE, others none.
func CanAssign(actor, target models.Role) bool {
	if !target.Valid() {
		return false
	}
	switch actor {
	case models.RoleOwner:
		return true
	case models.RoleAdmin:
		return target == models.RoleManager || target == models.RoleEmployee
	}
	return false
}

// Actor is the member performing a tenant operation.
type Actor struct {
	UserID   uuid.UUID
	TenantID uuid.UUID
	Role     models.Role
}

// CreateInput is the data for a new company.
type CreateInput struct {
	Name     string
	Slug     string
	Industry string
}

// InviteInput is the data for adding an existing user to a company.
type InviteInput struct {
	EmailOrPhone string
	Role         models.Role
}

// Service implements company management.
type Service struct {
	store  Store
	users  UserFinder
	logger *zap.Logger
}

// NewService creates a tenants service.
func NewService(store Store, users UserFinder, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, users: users, logger: logger}
}

// Create creates a company owned by userID.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, in CreateInput) (*models.TenantMembership, error) {
	t := &models.Tenant{
		Name:     strings.TrimSpace(in.Name),
		Slug:     strings.ToLower(strings.TrimSpace(in.Slug)),
		Industry: strings.TrimSpace(in.Industry),
	}
	if t.Name == "" || len(t.Name) > 255 {
		return nil, apperr.Validation("name must be 1-255 characters")
	}
	if !validation.ValidSlug(t.Slug) {
		return nil, apperr.Validation("slug must be 2-64 chars, lowercase letters, numbers, hyphens only")
	}
	if err := s.store.CreateWithOwner(ctx, t, userID); err != nil {
		return nil, err
	}
	s.logger.Info("company created", zap.String("tenant_id", t.ID.String()), zap.String("owner_id", userID.String()))
	return &models.TenantMembership{Tenant: *t, Role: models.RoleOwner}, nil
}

// ListForUser returns the companies the user actively belongs to.
func (s *Service) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.TenantMembership, error) {
	return s.store.ListForUser(ctx, userID)
}

// ListMembers returns the members of the actor's company.
func (s *Service) ListMembers(ctx context.Context, tenantID uuid.UUID) ([]models.Member, error) {
	return s.store.ListMembers(ctx, tenantID)
}

// Invite adds an existing user to the actor's company, bounded by CanAssign.
func (s *Service) Invite(ctx context.Context, actor Actor, in InviteInput) (*models.Member, error) {
	if !in.Role.Valid() {
		return nil, apperr.Validation("role must be one of OWNER, ADMIN, MANAGER, EMPLOYEE")
	}
	if !CanAssign(actor.Role, in.Role) {
		return nil, apperr.Authorization("You cannot assign the " + string(in.Role) + " role")
	}
	identifier := strings.TrimSpace(in.EmailOrPhone)
	if validation.IsEmail(identifier) {
		identifier = validation.NormalizeEmail(identifier)
	} else {
		identifier = validation.NormalizePhone(identifier)
	}
	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, apperr.NotFound("User not found")
	}
	if err := s.store.AddMember(ctx, actor.TenantID, user.ID, in.Role); err != nil {
		return nil, err
	}
	s.logger.Info("member added",
		zap.String("tenant_id", actor.TenantID.String()),
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(in.Role)),
		zap.String("invited_by", actor.UserID.String()))
	return &models.Member{
		UserID:    user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Email:     user.Email,
		Phone:     user.Phone,
		Role:      in.Role,
		IsActive:  true,
	}, nil
}

// RemoveMember deactivates a member of the actor's company. The actor must be
// allowed to assign the member's current role and cannot remove themselves.
func (s *Service) RemoveMember(ctx context.Context, actor Actor, userID uuid.UUID) error {
	if userID == actor.UserID {
		return apperr.Validation("You cannot remove yourself from the company")
	}
	m, err := s.store.GetMembership(ctx, userID, actor.TenantID)
	if err != nil {
		return err
	}
	if m == nil || !m.IsActive {
		return apperr.NotFound("Member not found")
	}
	if !CanAssign(actor.Role, m.Role) {
		return apperr.Authorization("Insufficient permissions")
	}
	ok, err := s.store.Deactivate(ctx, actor.TenantID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Member not found")
	}
	s.logger.Info("member removed",
		zap.String("tenant_id", actor.TenantID.String()),
		zap.String("user_id", userID.String()),
		zap.String("removed_by", actor.UserID.String()))
	return nil
}
