package auth

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threadline-erp/backend/internal/models"
	"github.com/threadline-erp/backend/internal/validation"
	"github.com/threadline-erp/backend/pkg/database"
)

const userColumns = `id, first_name, last_name, email, phone, password_hash, is_active, last_login_at, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository creates an auth repository. timeout bounds every query.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Phone, &u.PasswordHash,
		&u.IsActive, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) getOne(ctx context.Context, op, where string, arg interface{}) (*models.User, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if err != nil {
		if err = database.Classify(err, op, ""); errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

// GetByID returns a user by ID, or (nil, nil) if none exists.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return r.getOne(ctx, "get user", `id = $1`, id)
}

// GetByEmail returns a user by email (case-insensitive), or (nil, nil).
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.getOne(ctx, "get user by email", `LOWER(email) = LOWER($1)`, email)
}

// GetByPhone returns a user by normalized phone, or (nil, nil).
func (r *Repository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	return r.getOne(ctx, "get user by phone", `phone = $1`, phone)
}

// GetByIdentifier looks the user up by email when identifier contains "@",
// by phone otherwise.
func (r *Repository) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	if validation.IsEmail(identifier) {
		return r.GetByEmail(ctx, identifier)
	}
	return r.GetByPhone(ctx, identifier)
}

// Create inserts a new user. A duplicate email or phone is a conflict.
func (r *Repository) Create(ctx context.Context, u *models.User) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `INSERT INTO users (first_name, last_name, email, phone, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_active, created_at, updated_at`
	err := r.pool.QueryRow(ctx, q, u.FirstName, u.LastName, u.Email, u.Phone, u.PasswordHash).
		Scan(&u.ID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return database.Classify(err, "create user", "A user with this email or phone already exists")
}

// UpdateLastLogin stores the time of the user's latest successful login.
func (r *Repository) UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `UPDATE users SET last_login_at = $2, updated_at = NOW() WHERE id = $1`, id, at)
	return database.Classify(err, "update last login", "")
}
