package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one authenticated device/login. Tokens carry its ID; revoking it
// invalidates every token derived from it.
type Session struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	TenantID         *uuid.UUID
	DeviceInfo       string
	UserAgent        string
	IPAddress        string
	Revoked          bool
	RevokedAt        *time.Time
	ExpiresAt        time.Time
	RefreshJti       string
	RefreshTokenHash string
	CreatedAt        time.Time
	LastActiveAt     time.Time
}

// Active reports whether the session may still back tokens at now.
func (s *Session) Active(now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}

// SessionPublic is the device-management view of a session.
type SessionPublic struct {
	ID           uuid.UUID  `json:"id"`
	TenantID     *uuid.UUID `json:"tenantId,omitempty"`
	DeviceInfo   string     `json:"deviceInfo,omitempty"`
	UserAgent    string     `json:"userAgent,omitempty"`
	IPAddress    string     `json:"ipAddress,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	LastActiveAt time.Time  `json:"lastActiveAt"`
	ExpiresAt    time.Time  `json:"expiresAt"`
	Current      bool       `json:"current"`
}

// ToPublic converts Session to SessionPublic; current marks the caller's own session.
func (s *Session) ToPublic(current uuid.UUID) SessionPublic {
	return SessionPublic{
		ID:           s.ID,
		TenantID:     s.TenantID,
		DeviceInfo:   s.DeviceInfo,
		UserAgent:    s.UserAgent,
		IPAddress:    s.IPAddress,
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActiveAt,
		ExpiresAt:    s.ExpiresAt,
		Current:      s.ID == current,
	}
}

// DeviceMeta is the client metadata captured when a session is opened.
type DeviceMeta struct {
	DeviceInfo string
	UserAgent  string
	IPAddress  string
}
