package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/models"
)

// RequireRole returns a middleware that allows only the given roles. The list
// is a flat allow-list: no role implies another. Mount after TenantIsolation.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		id, ok := IdentityFrom(c)
		if !ok {
			_ = c.Error(apperr.Authentication("Authentication required"))
			c.Abort()
			return
		}
		if _, ok := allowed[id.Role]; !ok || id.Role == "" {
			_ = c.Error(apperr.Authorization("Insufficient permissions"))
			c.Abort()
			return
		}
		c.Next()
	}
}
