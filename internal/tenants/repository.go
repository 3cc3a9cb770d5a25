package tenants

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/models"
	"github.com/threadline-erp/backend/pkg/database"
)

// Repository handles tenant and user_tenants persistence.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository creates a tenants repository.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

// CreateWithOwner creates a tenant and makes ownerID its OWNER in one transaction.
func (r *Repository) CreateWithOwner(ctx context.Context, t *models.Tenant, ownerID uuid.UUID) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return database.Classify(err, "begin create tenant", "")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	const q = `INSERT INTO tenants (name, slug, industry)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING id, created_at, updated_at`
	if err := tx.QueryRow(ctx, q, t.Name, t.Slug, t.Industry).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return database.Classify(err, "create tenant", "A company with this slug already exists")
	}
	if _, err := tx.Exec(ctx, `INSERT INTO user_tenants (user_id, tenant_id, role) VALUES ($1, $2, $3)`,
		ownerID, t.ID, string(models.RoleOwner)); err != nil {
		return database.Classify(err, "add tenant owner", "Membership already exists")
	}
	if err := tx.Commit(ctx); err != nil {
		return database.Classify(err, "commit create tenant", "")
	}
	return nil
}

// GetByID returns a tenant by ID, or (nil, nil) if none exists.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `SELECT id, name, slug, COALESCE(industry, ''), created_at, updated_at FROM tenants WHERE id = $1`
	var t models.Tenant
	err := r.pool.QueryRow(ctx, q, id).Scan(&t.ID, &t.Name, &t.Slug, &t.Industry, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if err = database.Classify(err, "get tenant", ""); errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

// GetMembership returns the user's membership row in the tenant, active or
// not, or (nil, nil) if the user was never a member.
func (r *Repository) GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `SELECT user_id, tenant_id, role, is_active, created_at, updated_at
		FROM user_tenants WHERE user_id = $1 AND tenant_id = $2`
	var m models.Membership
	err := r.pool.QueryRow(ctx, q, userID, tenantID).Scan(&m.UserID, &m.TenantID, &m.Role, &m.IsActive, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err = database.Classify(err, "get membership", ""); errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// AddMember adds userID to the tenant with role. A deactivated membership is
// reactivated with the new role; an active one is a conflict.
func (r *Repository) AddMember(ctx context.Context, tenantID, userID uuid.UUID, role models.Role) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `INSERT INTO user_tenants (user_id, tenant_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, tenant_id) DO UPDATE
			SET role = EXCLUDED.role, is_active = TRUE, updated_at = NOW()
			WHERE user_tenants.is_active = FALSE`
	tag, err := r.pool.Exec(ctx, q, userID, tenantID, string(role))
	if err != nil {
		return database.Classify(err, "add member", ErrAlreadyMember.Message)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyMember
	}
	return nil
}

// ErrAlreadyMember is returned when inviting an active member.
var ErrAlreadyMember = apperr.Conflict("User is already a member of this company")

// ListForUser returns the tenants the user is an active member of, with their role.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.TenantMembership, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `SELECT t.id, t.name, t.slug, COALESCE(t.industry, ''), t.created_at, t.updated_at, ut.role
		FROM tenants t
		INNER JOIN user_tenants ut ON ut.tenant_id = t.id
		WHERE ut.user_id = $1 AND ut.is_active = TRUE
		ORDER BY t.name`
	rows, err := r.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, database.Classify(err, "list tenants", "")
	}
	defer rows.Close()
	list := []models.TenantMembership{}
	for rows.Next() {
		var tm models.TenantMembership
		if err := rows.Scan(&tm.ID, &tm.Name, &tm.Slug, &tm.Industry, &tm.CreatedAt, &tm.UpdatedAt, &tm.Role); err != nil {
			return nil, database.Classify(err, "list tenants", "")
		}
		list = append(list, tm)
	}
	return list, database.Classify(rows.Err(), "list tenants", "")
}

// ListMembers returns all members of a tenant, including deactivated ones.
func (r *Repository) ListMembers(ctx context.Context, tenantID uuid.UUID) ([]models.Member, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `SELECT ut.user_id, u.first_name, u.last_name, u.email, u.phone, ut.role, ut.is_active, ut.created_at
		FROM user_tenants ut
		INNER JOIN users u ON u.id = ut.user_id
		WHERE ut.tenant_id = $1
		ORDER BY ut.created_at ASC`
	rows, err := r.pool.Query(ctx, q, tenantID)
	if err != nil {
		return nil, database.Classify(err, "list members", "")
	}
	defer rows.Close()
	list := []models.Member{}
	for rows.Next() {
		var m models.Member
		if err := rows.Scan(&m.UserID, &m.FirstName, &m.LastName, &m.Email, &m.Phone, &m.Role, &m.IsActive, &m.AddedAt); err != nil {
			return nil, database.Classify(err, "list members", "")
		}
		list = append(list, m)
	}
	return list, database.Classify(rows.Err(), "list members", "")
}

// Deactivate marks the membership inactive. Returns false if no active membership matched.
func (r *Repository) Deactivate(ctx context.Context, tenantID, userID uuid.UUID) (bool, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE user_tenants SET is_active = FALSE, updated_at = NOW()
		WHERE tenant_id = $1 AND user_id = $2 AND is_active = TRUE`, tenantID, userID)
	if err != nil {
		return false, database.Classify(err, "deactivate member", "")
	}
	return tag.RowsAffected() > 0, nil
}

