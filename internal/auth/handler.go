package auth

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/threadline-erp/backend/internal/apperr"
	"github.com/threadline-erp/backend/internal/middleware"
	"github.com/threadline-erp/backend/internal/models"
	"github.com/threadline-erp/backend/internal/security"
	"github.com/threadline-erp/backend/internal/validation"
	"github.com/threadline-erp/backend/pkg/response"
)

// HeaderDeviceInfo optionally describes the client device.
const HeaderDeviceInfo = "X-Device-Info"

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	FirstName  string `json:"firstName" binding:"required,max=100"`
	LastName   string `json:"lastName" binding:"required,max=100"`
	Email      string `json:"email" binding:"required_without=Phone,omitempty,email,max=255"`
	Phone      string `json:"phone" binding:"required_without=Email,omitempty,phone"`
	Password   string `json:"password" binding:"required,strongpassword"`
	DeviceInfo string `json:"deviceInfo" binding:"max=255"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	EmailOrPhone string `json:"emailOrPhone" binding:"required"`
	Password     string `json:"password" binding:"required"`
	TenantID     string `json:"tenantId" binding:"omitempty,uuid"`
	DeviceInfo   string `json:"deviceInfo" binding:"max=255"`
}

// RefreshRequest is the body for POST /auth/refresh.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" binding:"required"`
}

// SwitchTenantRequest is the body for POST /auth/switch-tenant.
type SwitchTenantRequest struct {
	TenantID string `json:"tenantId" binding:"required,uuid"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	svc    *Service
	tokens *security.TokenCodec
}

// NewHandler creates an auth handler.
func NewHandler(svc *Service, tokens *security.TokenCodec) *Handler {
	return &Handler{svc: svc, tokens: tokens}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if !bind(c, &req) {
		return
	}
	res, err := h.svc.Register(c.Request.Context(), RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		Device:    deviceMeta(c, req.DeviceInfo),
	})
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.Created(c, res)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if !bind(c, &req) {
		return
	}
	in := LoginInput{
		EmailOrPhone: req.EmailOrPhone,
		Password:     req.Password,
		Device:       deviceMeta(c, req.DeviceInfo),
	}
	if req.TenantID != "" {
		tid := uuid.MustParse(req.TenantID)
		in.TenantID = &tid
	}
	res, err := h.svc.Login(c.Request.Context(), in)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OK(c, res)
}

// Refresh handles POST /auth/refresh.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if !bind(c, &req) {
		return
	}
	pair, err := h.svc.RefreshToken(c.Request.Context(), req.RefreshToken)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OK(c, gin.H{"tokens": pair})
}

// SwitchTenant handles POST /auth/switch-tenant.
func (h *Handler) SwitchTenant(c *gin.Context) {
	id := middleware.MustIdentity(c)
	var req SwitchTenantRequest
	if !bind(c, &req) {
		return
	}
	pair, tenant, err := h.svc.SwitchTenant(c.Request.Context(), id.UserID, id.SessionID, uuid.MustParse(req.TenantID))
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OK(c, gin.H{"tokens": pair, "tenant": tenant})
}

// Companies handles GET /auth/companies.
func (h *Handler) Companies(c *gin.Context) {
	id := middleware.MustIdentity(c)
	companies, err := h.svc.Companies(c.Request.Context(), id.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	if companies == nil {
		companies = []models.TenantMembership{}
	}
	response.OK(c, gin.H{"companies": companies})
}

// Logout handles POST /auth/logout. It verifies the token itself rather than
// running behind TenantIsolation so a missing header is a 400.
func (h *Handler) Logout(c *gin.Context) {
	token, err := middleware.BearerToken(c)
	if err != nil {
		if errors.Is(err, middleware.ErrMissingAuthorization) {
			_ = c.Error(apperr.Validation("Authorization header required"))
			return
		}
		_ = c.Error(err)
		return
	}
	claims, err := h.tokens.VerifyAccess(token)
	if err != nil {
		_ = c.Error(apperr.Authentication("Invalid or expired token"))
		return
	}
	if err := h.svc.Logout(c.Request.Context(), claims.UserID, claims.SessionID); err != nil {
		_ = c.Error(err)
		return
	}
	response.OKMessage(c, "Logged out successfully", nil)
}

// Sessions handles GET /auth/sessions.
func (h *Handler) Sessions(c *gin.Context) {
	id := middleware.MustIdentity(c)
	sessions, err := h.svc.GetUserSessions(c.Request.Context(), id.UserID, id.SessionID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OK(c, gin.H{"sessions": sessions})
}

// RevokeSession handles DELETE /auth/sessions/:sessionId.
func (h *Handler) RevokeSession(c *gin.Context) {
	id := middleware.MustIdentity(c)
	sessionID, err := uuid.Parse(c.Param("sessionId"))
	if err != nil {
		_ = c.Error(apperr.Validation("invalid session id"))
		return
	}
	if err := h.svc.RevokeSession(c.Request.Context(), id.UserID, sessionID); err != nil {
		_ = c.Error(err)
		return
	}
	response.OKMessage(c, "Session revoked", nil)
}

// RevokeOtherSessions handles DELETE /auth/sessions. The caller's own session survives.
func (h *Handler) RevokeOtherSessions(c *gin.Context) {
	id := middleware.MustIdentity(c)
	n, err := h.svc.RevokeAllUserSessions(c.Request.Context(), id.UserID, id.SessionID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OKMessage(c, "Other sessions revoked", gin.H{"revoked": n})
}

// Profile handles GET /auth/profile.
func (h *Handler) Profile(c *gin.Context) {
	id := middleware.MustIdentity(c)
	user, err := h.svc.Profile(c.Request.Context(), id.UserID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	response.OK(c, gin.H{"user": user})
}

// Health handles GET /auth/health.
func Health(c *gin.Context) {
	response.OK(c, gin.H{"status": "ok"})
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperr.Validation(validation.Message(err)))
		return false
	}
	return true
}

func deviceMeta(c *gin.Context, deviceInfo string) models.DeviceMeta {
	if deviceInfo == "" {
		deviceInfo = c.GetHeader(HeaderDeviceInfo)
	}
	if len(deviceInfo) > 255 {
		deviceInfo = deviceInfo[:255]
	}
	ua := c.Request.UserAgent()
	if len(ua) > 512 {
		ua = ua[:512]
	}
	return models.DeviceMeta{DeviceInfo: deviceInfo, UserAgent: ua, IPAddress: c.ClientIP()}
}

// RouteLimits holds the per-class rate limit middlewares. Nil entries are skipped.
type RouteLimits struct {
	Register gin.HandlerFunc
	Auth     gin.HandlerFunc
	User     gin.HandlerFunc
}

// RegisterRoutes mounts the auth endpoints on rg. authn is the tenant
// isolation middleware guarding the authenticated routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authn gin.HandlerFunc, limits RouteLimits) {
	rg.GET("/health", Health)
	rg.POST("/register", chain(limits.Register, h.Register)...)
	rg.POST("/login", chain(limits.Auth, h.Login)...)
	rg.POST("/refresh", chain(limits.Auth, h.Refresh)...)
	rg.POST("/logout", chain(limits.Auth, h.Logout)...)

	protected := rg.Group("", chain(authn, limits.User)...)
	{
		protected.POST("/switch-tenant", h.SwitchTenant)
		protected.GET("/companies", h.Companies)
		protected.GET("/sessions", h.Sessions)
		protected.DELETE("/sessions/:sessionId", h.RevokeSession)
		protected.DELETE("/sessions", h.RevokeOtherSessions)
		protected.GET("/profile", h.Profile)
	}
}

func chain(handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(handlers))
	for _, hf := range handlers {
		if hf != nil {
			out = append(out, hf)
		}
	}
	return out
}
