package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/models"
	"github.com/threadline-erp/backend/internal/security"
	"github.com/threadline-erp/backend/internal/validation"
)

// UserStore is the user persistence the service depends on. Getters return
// (nil, nil) when no user matches.
type UserStore interface {
	Create(ctx context.Context, u *models.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}

// SessionStore is the session registry.
type SessionStore interface {
	Create(ctx context.Context, s *models.Session) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	ListActiveByUser(ctx context.Context, userID uuid.UUID, now time.Time) ([]*models.Session, error)
	Revoke(ctx context.Context, userID, sessionID uuid.UUID) (bool, error)
	RevokeAllByUser(ctx context.Context, userID, except uuid.UUID) ([]uuid.UUID, error)
	RotateRefresh(ctx context.Context, sessionID uuid.UUID, oldJti string, tenantID *uuid.UUID, newJti, newHash string) (bool, error)
}

// TenantStore resolves tenants and memberships.
type TenantStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
	GetMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.TenantMembership, error)
}

// SessionEvents is notified after sessions are revoked.
type SessionEvents interface {
	SessionsRevoked(ctx context.Context, userID uuid.UUID, sessionIDs []uuid.UUID)
}

// RegisterInput is the data for a new account.
type RegisterInput struct {
	FirstName string
	LastName  string
	Email     string
	Phone     string
	Password  string
	Device    models.DeviceMeta
}

// LoginInput is a credential check. TenantID optionally opens the session
// directly in a company the user belongs to.
type LoginInput struct {
	EmailOrPhone string
	Password     string
	TenantID     *uuid.UUID
	Device       models.DeviceMeta
}

// AuthResult is returned by register and login.
type AuthResult struct {
	User      models.UserPublic         `json:"user"`
	Tokens    *security.TokenPair       `json:"tokens"`
	Companies []models.TenantMembership `json:"companies,omitempty"`
}

// Service orchestrates registration, login and the token/session lifecycle.
type Service struct {
	users    UserStore
	sessions SessionStore
	tenants  TenantStore
	tokens   *security.TokenCodec
	hasher   *security.Hasher
	events   SessionEvents
	logger   *zap.Logger
	now      func() time.Time
}

// NewService creates an auth service. events may be nil.
func NewService(users UserStore, sessions SessionStore, tenants TenantStore, tokens *security.TokenCodec, hasher *security.Hasher, events SessionEvents, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		users:    users,
		sessions: sessions,
		tenants:  tenants,
		tokens:   tokens,
		hasher:   hasher,
		events:   events,
		logger:   logger,
		now:      time.Now,
	}
}

var (
	errUserNotFound       = apperr.NotFound("User not found")
	errInvalidCredentials = apperr.Authentication("Invalid credentials")
	errInactive           = apperr.Authorization("Account is inactive")
	errAccessDenied       = apperr.Authorization("Access denied")
	errSessionInactive    = apperr.Authentication("Session expired or revoked")
	errInvalidRefresh     = apperr.Authentication("Invalid or expired refresh token")
)

// Register creates the user, opens a session and issues the first token pair.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	u := &models.User{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
	}
	if email := validation.NormalizeEmail(in.Email); email != "" {
		u.Email = &email
	}
	if phone := validation.NormalizePhone(in.Phone); phone != "" {
		u.Phone = &phone
	}
	if u.Email == nil && u.Phone == nil {
		return nil, apperr.Validation("email or phone is required")
	}
	if u.FirstName == "" || u.LastName == "" {
		return nil, apperr.Validation("firstName and lastName are required")
	}
	if err := validation.CheckPassword(in.Password); err != nil {
		return nil, apperr.Validation(err.Error())
	}

	hash, err := s.hasher.Hash(in.Password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return nil, apperr.Validation(err.Error())
	}
	if err != nil {
		return nil, apperr.Database("hash password", err)
	}
	u.PasswordHash = hash
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}

	pair, _, err := s.openSession(ctx, u.ID, nil, "", in.Device)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user registered", zap.String("user_id", u.ID.String()))
	return &AuthResult{User: u.ToPublic(), Tokens: pair}, nil
}

// Login verifies credentials and opens a new session.
func (s *Service) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	identifier := strings.TrimSpace(in.EmailOrPhone)
	if validation.IsEmail(identifier) {
		identifier = validation.NormalizeEmail(identifier)
	} else {
		identifier = validation.NormalizePhone(identifier)
	}
	u, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errUserNotFound
	}
	if !s.hasher.Check(u.PasswordHash, in.Password) {
		return nil, errInvalidCredentials
	}
	if !u.IsActive {
		return nil, errInactive
	}

	var role models.Role
	if in.TenantID != nil {
		m, err := s.activeMembership(ctx, u.ID, *in.TenantID)
		if err != nil {
			return nil, err
		}
		role = m.Role
	}

	pair, _, err := s.openSession(ctx, u.ID, in.TenantID, role, in.Device)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, u.ID, now); err != nil {
		s.logger.Warn("update last login failed", zap.String("user_id", u.ID.String()), zap.Error(err))
	} else {
		u.LastLoginAt = &now
	}

	companies, err := s.tenants.ListForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user logged in", zap.String("user_id", u.ID.String()))
	return &AuthResult{User: u.ToPublic(), Tokens: pair, Companies: companies}, nil
}

// RefreshToken exchanges a refresh token for a new pair bound to the same
// session. The presented token is retired; presenting a retired token again
// revokes the session.
func (s *Service) RefreshToken(ctx context.Context, refreshToken string) (*security.TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, errInvalidRefresh
	}
	sess, err := s.sessions.GetByID(ctx, claims.SessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Active(s.now()) || sess.UserID != claims.UserID {
		return nil, errSessionInactive
	}
	if sess.RefreshJti != claims.ID || !security.RefreshTokenHashEqual(refreshToken, sess.RefreshTokenHash) {
		s.logger.Warn("refresh token reuse detected, revoking session",
			zap.String("user_id", sess.UserID.String()), zap.String("session_id", sess.ID.String()))
		if _, err := s.sessions.Revoke(ctx, sess.UserID, sess.ID); err != nil {
			return nil, err
		}
		s.publishRevoked(ctx, sess.UserID, []uuid.UUID{sess.ID})
		return nil, errSessionInactive
	}

	u, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		return nil, err
	}
	if u == nil || !u.IsActive {
		return nil, errInactive
	}

	// keep the tenant context only while the membership is still active
	tenantID, role := claims.TenantID, models.Role("")
	if tenantID != nil {
		m, err := s.tenants.GetMembership(ctx, u.ID, *tenantID)
		if err != nil {
			return nil, err
		}
		if m != nil && m.IsActive {
			role = m.Role
		} else {
			tenantID = nil
		}
	}
	return s.rotate(ctx, sess.ID, claims.ID, security.Subject{UserID: u.ID, TenantID: tenantID, Role: role, SessionID: sess.ID, NotAfter: sess.ExpiresAt})
}

// SwitchTenant re-issues the session's token pair scoped to tenantID.
func (s *Service) SwitchTenant(ctx context.Context, userID, sessionID, tenantID uuid.UUID) (*security.TokenPair, *models.TenantMembership, error) {
	m, err := s.activeMembership(ctx, userID, tenantID)
	if err != nil {
		return nil, nil, err
	}
	tenant, err := s.tenants.GetByID(ctx, tenantID)
	if err != nil {
		return nil, nil, err
	}
	if tenant == nil {
		return nil, nil, errAccessDenied
	}
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if !sess.Active(s.now()) || sess.UserID != userID {
		return nil, nil, errSessionInactive
	}
	tid := tenantID
	pair, err := s.rotate(ctx, sessionID, sess.RefreshJti, security.Subject{UserID: userID, TenantID: &tid, Role: m.Role, SessionID: sessionID, NotAfter: sess.ExpiresAt})
	if err != nil {
		return nil, nil, err
	}
	s.logger.Info("tenant switched", zap.String("user_id", userID.String()), zap.String("tenant_id", tenantID.String()))
	return pair, &models.TenantMembership{Tenant: *tenant, Role: m.Role}, nil
}

// Companies lists the companies the user actively belongs to.
func (s *Service) Companies(ctx context.Context, userID uuid.UUID) ([]models.TenantMembership, error) {
	return s.tenants.ListForUser(ctx, userID)
}

// Logout revokes the session. Logging out an already revoked session succeeds.
func (s *Service) Logout(ctx context.Context, userID, sessionID uuid.UUID) error {
	ok, err := s.sessions.Revoke(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if ok {
		s.publishRevoked(ctx, userID, []uuid.UUID{sessionID})
	}
	s.logger.Info("user logged out", zap.String("user_id", userID.String()), zap.String("session_id", sessionID.String()))
	return nil
}

// GetUserSessions lists the user's active sessions; current is flagged.
func (s *Service) GetUserSessions(ctx context.Context, userID, current uuid.UUID) ([]models.SessionPublic, error) {
	list, err := s.sessions.ListActiveByUser(ctx, userID, s.now())
	if err != nil {
		return nil, err
	}
	out := make([]models.SessionPublic, 0, len(list))
	for _, sess := range list {
		out = append(out, sess.ToPublic(current))
	}
	return out, nil
}

// RevokeSession revokes one of the user's sessions.
func (s *Service) RevokeSession(ctx context.Context, userID, sessionID uuid.UUID) error {
	ok, err := s.sessions.Revoke(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound("Session not found")
	}
	s.publishRevoked(ctx, userID, []uuid.UUID{sessionID})
	return nil
}

// RevokeAllUserSessions revokes every session of the user except except
// (uuid.Nil revokes all) and returns how many were revoked.
func (s *Service) RevokeAllUserSessions(ctx context.Context, userID, except uuid.UUID) (int, error) {
	ids, err := s.sessions.RevokeAllByUser(ctx, userID, except)
	if err != nil {
		return 0, err
	}
	if len(ids) > 0 {
		s.publishRevoked(ctx, userID, ids)
	}
	return len(ids), nil
}

// Profile returns the public view of the user.
func (s *Service) Profile(ctx context.Context, userID uuid.UUID) (*models.UserPublic, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, errUserNotFound
	}
	pub := u.ToPublic()
	return &pub, nil
}

// openSession persists a session and returns the token pair bound to it. The
// session row is written before the tokens leave this function.
func (s *Service) openSession(ctx context.Context, userID uuid.UUID, tenantID *uuid.UUID, role models.Role, device models.DeviceMeta) (*security.TokenPair, *models.Session, error) {
	sessionID := uuid.New()
	pair, err := s.tokens.Issue(security.Subject{UserID: userID, TenantID: tenantID, Role: role, SessionID: sessionID})
	if err != nil {
		return nil, nil, apperr.Database("sign tokens", err)
	}
	sess := &models.Session{
		ID:               sessionID,
		UserID:           userID,
		TenantID:         tenantID,
		DeviceInfo:       device.DeviceInfo,
		UserAgent:        device.UserAgent,
		IPAddress:        device.IPAddress,
		ExpiresAt:        pair.RefreshExpiresAt,
		RefreshJti:       pair.RefreshJti,
		RefreshTokenHash: security.HashRefreshToken(pair.RefreshToken),
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, nil, err
	}
	return pair, sess, nil
}

// rotate issues a pair for sub and makes it the session's current refresh
// token, provided oldJti is still current. Session lifetime is fixed at
// creation, so sub.NotAfter carries the session expiry.
func (s *Service) rotate(ctx context.Context, sessionID uuid.UUID, oldJti string, sub security.Subject) (*security.TokenPair, error) {
	pair, err := s.tokens.Issue(sub)
	if err != nil {
		return nil, apperr.Database("sign tokens", err)
	}
	ok, err := s.sessions.RotateRefresh(ctx, sessionID, oldJti, sub.TenantID, pair.RefreshJti, security.HashRefreshToken(pair.RefreshToken))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errSessionInactive
	}
	return pair, nil
}

func (s *Service) activeMembership(ctx context.Context, userID, tenantID uuid.UUID) (*models.Membership, error) {
	m, err := s.tenants.GetMembership(ctx, userID, tenantID)
	if err != nil {
		return nil, err
	}
	if m == nil || !m.IsActive {
		return nil, errAccessDenied
	}
	return m, nil
}

func (s *Service) publishRevoked(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) {
	if s.events != nil {
		s.events.SessionsRevoked(ctx, userID, ids)
	}
}
