package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/threadline-erp/backend/internal/models"
)

// IdentityKey is the gin context key holding the verified Identity.
const IdentityKey = "identity"

// Identity is the verified caller context attached by TenantIsolation.
// TenantID and Role are empty when the token carries no tenant context.
type Identity struct {
	UserID    uuid.UUID
	TenantID  *uuid.UUID
	Role      models.Role
	SessionID uuid.UUID
}

// HasTenant reports whether the identity is scoped to a tenant.
func (i Identity) HasTenant() bool { return i.TenantID != nil }

// IdentityFrom returns the identity attached to c, if any.
func IdentityFrom(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(IdentityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// MustIdentity returns the attached identity and panics when absent. Only use
// on routes mounted behind TenantIsolation.
func MustIdentity(c *gin.Context) Identity {
	return c.MustGet(IdentityKey).(Identity)
}
