package tenants

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/middleware"
	"github.com/threadline-erp/backend/internal/models"
	"github.com/threadline-erp/backend/internal/validation"
	"github.com/threadline-erp/backend/pkg/response"
)

// Handler handles company HTTP endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a tenants handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// CreateCompanyRequest is the body for POST /companies.
type CreateCompanyRequest struct {
	Name     string `json:"name" binding:"required,max=255"`
	Slug     string `json:"slug" binding:"required,slug"`
	Industry string `json:"industry" binding:"max=100"`
}

// InviteRequest is the body for POST /companies/invitations.
type InviteRequest struct {
	EmailOrPhone string `json:"emailOrPhone" binding:"required"`
	Role         string `json:"role" binding:"required"`
}

// CreateCompany handles POST /companies. The caller becomes OWNER.
func (h *Handler) CreateCompany(c *gin.Context) {
	id := middleware.MustIdentity(c)
	var body CreateCompanyRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(apperr.Validation(validation.Message(err)))
		return
	}
	company, err := h.svc.Create(c.Request.Context(), id.UserID, CreateInput{
		Name: body.Name, Slug: body.Slug, Industry: body.Industry,
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.Created(c, gin.H{"company": company})
}

// ListMembers handles GET /companies/members for the caller's current company.
func (h *Handler) ListMembers(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	members, err := h.svc.ListMembers(c.Request.Context(), actor.TenantID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OK(c, gin.H{"members": members})
}

// Invite handles POST /companies/invitations.
func (h *Handler) Invite(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	var body InviteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		_ = c.Error(apperr.Validation(validation.Message(err)))
		return
	}
	role, _ := models.ParseRole(body.Role)
	member, err := h.svc.Invite(c.Request.Context(), actor, InviteInput{EmailOrPhone: body.EmailOrPhone, Role: role})
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.Created(c, gin.H{"member": member})
}

// RemoveMember handles DELETE /companies/members/:userId.
func (h *Handler) RemoveMember(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		return
	}
	userID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		_ = c.Error(apperr.Validation("invalid user id"))
		return
	}
	if err := h.svc.RemoveMember(c.Request.Context(), actor, userID); err != nil {
		_ = c.Error(err)
		return
	}
	response.OKMessage(c, "Member removed", nil)
}

// actorFrom builds the Actor for tenant-scoped routes. Tokens without a
// tenant context are rejected.
func actorFrom(c *gin.Context) (Actor, bool) {
	id := middleware.MustIdentity(c)
	if !id.HasTenant() {
		_ = c.Error(apperr.Authorization("Select a company first"))
		return Actor{}, false
	}
	return Actor{UserID: id.UserID, TenantID: *id.TenantID, Role: id.Role}, true
}

// RegisterRoutes mounts the company endpoints on rg. authn is the tenant
// isolation middleware; limit may be nil.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authn, limit gin.HandlerFunc) {
	g := rg.Group("", authn)
	if limit != nil {
		g.Use(limit)
	}
	g.POST("", h.CreateCompany)
	g.GET("/members", middleware.RequireRole(models.RoleOwner, models.RoleAdmin, models.RoleManager), h.ListMembers)
	g.POST("/invitations", middleware.RequireRole(models.RoleOwner, models.RoleAdmin), h.Invite)
	g.DELETE("/members/:userId", middleware.RequireRole(models.RoleOwner, models.RoleAdmin), h.RemoveMember)
}
