package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/models"
	"github.com/threadline-erp/backend/internal/security"
)

// SessionGetter loads a session by id. Returns (nil, nil) when missing.
type SessionGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// MembershipGetter loads a user's membership in a tenant. Returns (nil, nil) when missing.
type MembershipGetter interface {
	GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error)
}

// ActivityRecorder records that a session was used.
type ActivityRecorder interface {
	Touch(ctx context.Context, sessionID uuid.UUID, at time.Time)
}

// Authenticator resolves an access token into a verified Identity: signature,
// expiry and type first, then the session registry, then tenant membership.
type Authenticator struct {
	tokens      *security.TokenCodec
	sessions    SessionGetter
	memberships MembershipGetter
	activity    ActivityRecorder
	touchEvery  time.Duration
	now         func() time.Time
}

// NewAuthenticator creates an Authenticator. activity may be nil.
func NewAuthenticator(tokens *security.TokenCodec, sessions SessionGetter, memberships MembershipGetter, activity ActivityRecorder, touchEvery time.Duration) *Authenticator {
	return &Authenticator{
		tokens:      tokens,
		sessions:    sessions,
		memberships: memberships,
		activity:    activity,
		touchEvery:  touchEvery,
		now:         time.Now,
	}
}

// Authenticate verifies token and returns the caller identity. The role is
// read from the membership row, not the token, so demotions apply at once.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := a.tokens.VerifyAccess(token)
	if err != nil {
		return nil, apperr.Authentication("Invalid or expired token")
	}
	sess, err := a.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	now := a.now()
	if !sess.Active(now) || sess.UserID != claims.UserID {
		return nil, apperr.Authentication("Session expired or revoked")
	}
	id := &Identity{UserID: claims.UserID, SessionID: claims.SessionID}
	if claims.TenantID != nil {
		m, err := a.memberships.GetMembership(ctx, claims.UserID, *claims.TenantID)
		if err != nil {
			return nil, err
		}
		if m == nil || !m.IsActive {
			return nil, apperr.Authorization("Access denied")
		}
		tenantID := *claims.TenantID
		id.TenantID = &tenantID
		id.Role = m.Role
	}
	if a.activity != nil && now.Sub(sess.LastActiveAt) >= a.touchEvery {
		a.activity.Touch(ctx, sess.ID, now)
	}
	return id, nil
}

// TenantIsolation verifies the bearer access token and attaches the Identity.
// Any failure aborts the request with nothing attached.
func TenantIsolation(a *Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := BearerToken(c)
		if err != nil {
			_ = c.Error(apperr.Authentication(err.Error()))
			c.Abort()
			return
		}
		id, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			_ = c.Error(err)
			c.Abort()
			return
		}
		c.Set(IdentityKey, *id)
		c.Next()
	}
}

// ErrMissingAuthorization is returned by BearerToken when the header is absent.
var ErrMissingAuthorization = apperr.Authentication("Authorization header required")

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(c *gin.Context) (string, error) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", ErrMissingAuthorization
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.Authentication("Invalid authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}
