package sessions

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threadline-erp/backend/internal/models"
	"github.com/threadline-erp/backend/pkg/database"
)

const sessionColumns = `id, user_id, tenant_id, device_info, user_agent, ip_address, revoked, revoked_at,
	expires_at, refresh_jti, refresh_token_hash, created_at, last_active_at`

// Repository handles the sessions table.
type Repository struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

// NewRepository creates a session repository. timeout bounds every query.
func NewRepository(pool *pgxpool.Pool, timeout time.Duration) *Repository {
	return &Repository{pool: pool, timeout: timeout}
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var s models.Session
	err := row.Scan(&s.ID, &s.UserID, &s.TenantID, &s.DeviceInfo, &s.UserAgent, &s.IPAddress, &s.Revoked, &s.RevokedAt,
		&s.ExpiresAt, &s.RefreshJti, &s.RefreshTokenHash, &s.CreatedAt, &s.LastActiveAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a session. ID must be set by the caller so tokens can reference it.
func (r *Repository) Create(ctx context.Context, s *models.Session) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	const q = `INSERT INTO sessions (id, user_id, tenant_id, device_info, user_agent, ip_address, expires_at, refresh_jti, refresh_token_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, last_active_at`
	err := r.pool.QueryRow(ctx, q, s.ID, s.UserID, s.TenantID, s.DeviceInfo, s.UserAgent, s.IPAddress,
		s.ExpiresAt, s.RefreshJti, s.RefreshTokenHash).Scan(&s.CreatedAt, &s.LastActiveAt)
	return database.Classify(err, "create session", "Session already exists")
}

// GetByID returns a session by ID, or (nil, nil) if none exists.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	s, err := scanSession(r.pool.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id))
	if err != nil {
		if err = database.Classify(err, "get session", ""); errors.Is(err, database.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return s, nil
}

// ListActiveByUser returns the user's unrevoked, unexpired sessions, most recently used first.
func (r *Repository) ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*models.Session, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2
		ORDER BY last_active_at DESC`, userID, now)
	if err != nil {
		return nil, database.Classify(err, "list sessions", "")
	}
	defer rows.Close()
	var list []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, database.Classify(err, "list sessions", "")
		}
		list = append(list, s)
	}
	return list, database.Classify(rows.Err(), "list sessions", "")
}

// Revoke marks one of the user's sessions revoked. Returns false when the
// session does not exist or belongs to another user. Revoking an already
// revoked session succeeds.
func (r *Repository) Revoke(ctx context.Context, userID, sessionID uuid.UUID) (bool, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE sessions
		SET revoked = TRUE, revoked_at = COALESCE(revoked_at, NOW())
		WHERE id = $1 AND user_id = $2`, sessionID, userID)
	if err != nil {
		return false, database.Classify(err, "revoke session", "")
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAllByUser revokes every active session of the user except the one
// given (uuid.Nil to revoke all). Returns the IDs that were revoked.
func (r *Repository) RevokeAllByUser(ctx context.Context, userID, except uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	rows, err := r.pool.Query(ctx, `UPDATE sessions
		SET revoked = TRUE, revoked_at = NOW()
		WHERE user_id = $1 AND revoked = FALSE AND id <> $2
		RETURNING id`, userID, except)
	if err != nil {
		return nil, database.Classify(err, "revoke sessions", "")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, database.Classify(err, "revoke sessions", "")
	}
	return ids, nil
}

// RotateRefresh swaps the session's current refresh token for a new one, but
// only if oldJti is still current and the session is active. tenantID is the
// tenant context the new pair is bound to. Returns false when the swap lost.
func (r *Repository) RotateRefresh(ctx context.Context, sessionID uuid.UUID, oldJti string, tenantID *uuid.UUID, newJti, newHash string) (bool, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `UPDATE sessions
		SET refresh_jti = $3, refresh_token_hash = $4, tenant_id = $5, last_active_at = NOW()
		WHERE id = $1 AND refresh_jti = $2 AND revoked = FALSE AND expires_at > NOW()`,
		sessionID, oldJti, newJti, newHash, tenantID)
	if err != nil {
		return false, database.Classify(err, "rotate refresh token", "")
	}
	return tag.RowsAffected() == 1, nil
}

// Touch records session activity. Older timestamps never overwrite newer ones.
func (r *Repository) Touch(ctx context.Context, sessionID uuid.UUID, at time.Time) error {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	_, err := r.pool.Exec(ctx, `UPDATE sessions SET last_active_at = $2
		WHERE id = $1 AND revoked = FALSE AND last_active_at < $2`, sessionID, at)
	return database.Classify(err, "touch session", "")
}

// PurgeInactive deletes sessions that expired or were revoked before cutoff.
func (r *Repository) PurgeInactive(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := database.WithTimeout(ctx, r.timeout)
	defer cancel()
	tag, err := r.pool.Exec(ctx, `DELETE FROM sessions
		WHERE expires_at < $1 OR (revoked = TRUE AND revoked_at < $1)`, cutoff)
	if err != nil {
		return 0, database.Classify(err, "purge sessions", "")
	}
	return tag.RowsAffected(), nil
}
