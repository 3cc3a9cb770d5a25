package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/threadline-erp/backend/internal/models"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or badly signed.
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongTokenType is returned when an access token is presented as refresh or vice versa.
	ErrWrongTokenType = errors.New("wrong token type")
)

// TokenType distinguishes access from refresh tokens.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the signed payload of both token types.
type Claims struct {
	UserID    uuid.UUID   `json:"userId"`
	TenantID  *uuid.UUID  `json:"tenantId,omitempty"`
	Role      models.Role `json:"role,omitempty"`
	SessionID uuid.UUID   `json:"sessionId"`
	Type      TokenType   `json:"type"`
	jwt.RegisteredClaims
}

// Subject is who a token pair is issued for.
type Subject struct {
	UserID    uuid.UUID
	TenantID  *uuid.UUID
	Role      models.Role
	SessionID uuid.UUID
	// NotAfter, when set, caps the expiry of both tokens (the session's own expiry).
	NotAfter time.Time
}

// TokenPair is an access+refresh pair bound to one session.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
	RefreshJti       string    `json:"-"`
}

// TokenConfig configures a TokenCodec.
type TokenConfig struct {
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Leeway        time.Duration
}

// TokenCodec signs and verifies HS256 tokens. Access and refresh tokens use
// distinct secrets so neither can be verified as the other.
type TokenCodec struct {
	accessSecret  []byte
	refreshSecret []byte
	issuer        string
	accessTTL     time.Duration
	refreshTTL    time.Duration
	leeway        time.Duration
	now           func() time.Time
}

// NewTokenCodec creates a token codec.
func NewTokenCodec(cfg TokenConfig) *TokenCodec {
	return &TokenCodec{
		accessSecret:  []byte(cfg.AccessSecret),
		refreshSecret: []byte(cfg.RefreshSecret),
		issuer:        cfg.Issuer,
		accessTTL:     cfg.AccessTTL,
		refreshTTL:    cfg.RefreshTTL,
		leeway:        cfg.Leeway,
		now:           time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (c *TokenCodec) SetClock(now func() time.Time) { c.now = now }

// RefreshTTL returns the refresh token lifetime, which also bounds session lifetime.
func (c *TokenCodec) RefreshTTL() time.Duration { return c.refreshTTL }

// Issue signs a new access+refresh pair for sub.
func (c *TokenCodec) Issue(sub Subject) (*TokenPair, error) {
	access, accessExp, _, err := c.sign(sub, TokenTypeAccess)
	if err != nil {
		return nil, err
	}
	refresh, refreshExp, jti, err := c.sign(sub, TokenTypeRefresh)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
		RefreshJti:       jti,
	}, nil
}

// VerifyAccess validates signature, expiry, issuer and type=access.
func (c *TokenCodec) VerifyAccess(token string) (*Claims, error) {
	return c.verify(token, TokenTypeAccess)
}

// VerifyRefresh validates signature, expiry, issuer and type=refresh.
func (c *TokenCodec) VerifyRefresh(token string) (*Claims, error) {
	return c.verify(token, TokenTypeRefresh)
}

func (c *TokenCodec) sign(sub Subject, typ TokenType) (string, time.Time, string, error) {
	secret, ttl := c.accessSecret, c.accessTTL
	if typ == TokenTypeRefresh {
		secret, ttl = c.refreshSecret, c.refreshTTL
	}
	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	if !sub.NotAfter.IsZero() && expiresAt.After(sub.NotAfter) {
		expiresAt = sub.NotAfter.UTC()
	}
	jti := uuid.New().String()
	claims := Claims{
		UserID:    sub.UserID,
		TenantID:  sub.TenantID,
		Role:      sub.Role,
		SessionID: sub.SessionID,
		Type:      typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   sub.UserID.String(),
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, "", err
	}
	return signed, expiresAt, jti, nil
}

func (c *TokenCodec) verify(token string, want TokenType) (*Claims, error) {
	secret := c.accessSecret
	if want == TokenTypeRefresh {
		secret = c.refreshSecret
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(c.leeway),
		jwt.WithTimeFunc(c.now),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != want {
		return nil, ErrWrongTokenType
	}
	if claims.UserID == uuid.Nil || claims.SessionID == uuid.Nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
