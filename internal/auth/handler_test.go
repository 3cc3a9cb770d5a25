package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/threadline-erp/backend/internal/middleware"
	"github.com/threadline-erp/backend/internal/models"
	"github.com/threadline-erp/backend/internal/security"
	"github.com/threadline-erp/backend/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
	validation.Register()
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type tokensData struct {
	Tokens security.TokenPair `json:"tokens"`
	User   models.UserPublic  `json:"user"`
}

func newRouter(h *harness) *gin.Engine {
	r := gin.New()
	r.Use(middleware.RequestID(), middleware.Errors(zap.NewNop(), false))
	authn := middleware.TenantIsolation(middleware.NewAuthenticator(h.codec, h.sessions, h.tenants, nil, time.Minute))
	NewHandler(h.svc, h.codec).RegisterRoutes(r.Group("/api/v1/auth"), authn, RouteLimits{})
	return r
}

func call(t *testing.T, r http.Handler, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON %q", method, path, w.Body.String())
	}
	return w.Code, env
}

func registerJohn(t *testing.T, r http.Handler) tokensData {
	t.Helper()
	code, env := call(t, r, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"firstName": "John", "lastName": "Doe", "email": "john@x.com", "password": testPassword,
	})
	if code != http.StatusCreated {
		t.Fatalf("register status = %d (%s)", code, env.Message)
	}
	var data tokensData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode register data: %v", err)
	}
	return data
}

func TestHTTP_RegisterScenario(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h)
	data := registerJohn(t, r)

	claims, err := h.codec.VerifyAccess(data.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if claims.UserID != data.User.ID || claims.TenantID != nil || claims.Role != "" || claims.Type != security.TokenTypeAccess {
		t.Errorf("claims = %+v", claims)
	}

	code, env := call(t, r, http.MethodPost, "/api/v1/auth/register", "", gin.H{
		"firstName": "Johnny", "lastName": "D", "email": "john@x.com", "password": "Another1!",
	})
	if code != http.StatusConflict || env.Success {
		t.Errorf("duplicate register = %d %+v", code, env)
	}
}

func TestHTTP_RegisterValidation(t *testing.T) {
	r := newRouter(newHarness(t))
	tests := []struct {
		name string
		body gin.H
	}{
		{"missing identifier", gin.H{"firstName": "A", "lastName": "B", "password": testPassword}},
		{"weak password", gin.H{"firstName": "A", "lastName": "B", "email": "a@b.com", "password": "weak"}},
		{"bad email", gin.H{"firstName": "A", "lastName": "B", "email": "not-an-email", "password": testPassword}},
		{"bad phone", gin.H{"firstName": "A", "lastName": "B", "phone": "12", "password": testPassword}},
		{"password over 72 bytes", gin.H{"firstName": "A", "lastName": "B", "email": "a@b.com", "password": "Aa1!" + strings.Repeat("x", 80)}},
		{"six multibyte characters", gin.H{"firstName": "A", "lastName": "B", "email": "a@b.com", "password": "Ää1!äb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := call(t, r, http.MethodPost, "/api/v1/auth/register", "", tt.body)
			if code != http.StatusBadRequest || env.Success || env.Message == "" {
				t.Errorf("status = %d env = %+v", code, env)
			}
		})
	}
}

func TestHTTP_LoginScenarios(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h)
	registerJohn(t, r)

	code, env := call(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"emailOrPhone": "john@x.com", "password": "wrong"})
	if code != http.StatusUnauthorized || env.Message != "Invalid credentials" {
		t.Errorf("wrong password = %d %q", code, env.Message)
	}
	code, env = call(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"emailOrPhone": "ghost@x.com", "password": testPassword})
	if code != http.StatusNotFound || env.Message != "User not found" {
		t.Errorf("unknown user = %d %q", code, env.Message)
	}
	code, _ = call(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"emailOrPhone": "john@x.com", "password": testPassword})
	if code != http.StatusOK {
		t.Errorf("valid login = %d", code)
	}
	code, _ = call(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"password": testPassword})
	if code != http.StatusBadRequest {
		t.Errorf("missing identifier = %d", code)
	}
}

func TestHTTP_SwitchTenant(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h)
	data := registerJohn(t, r)
	mine := h.tenants.add("mine", data.User.ID, models.RoleAdmin)

	code, env := call(t, r, http.MethodPost, "/api/v1/auth/switch-tenant", data.Tokens.AccessToken, gin.H{"tenantId": uuid.New().String()})
	if code != http.StatusForbidden || env.Message != "Access denied" {
		t.Errorf("non-member switch = %d %q", code, env.Message)
	}
	code, _ = call(t, r, http.MethodPost, "/api/v1/auth/switch-tenant", "", gin.H{"tenantId": mine.String()})
	if code != http.StatusUnauthorized {
		t.Errorf("unauthenticated switch = %d", code)
	}
	code, env = call(t, r, http.MethodPost, "/api/v1/auth/switch-tenant", data.Tokens.AccessToken, gin.H{"tenantId": mine.String()})
	if code != http.StatusOK {
		t.Fatalf("switch = %d %q", code, env.Message)
	}
	var switched struct {
		Tokens security.TokenPair      `json:"tokens"`
		Tenant models.TenantMembership `json:"tenant"`
	}
	_ = json.Unmarshal(env.Data, &switched)
	if switched.Tenant.ID != mine || switched.Tenant.Role != models.RoleAdmin {
		t.Errorf("tenant = %+v", switched.Tenant)
	}
	claims, err := h.codec.VerifyAccess(switched.Tokens.AccessToken)
	if err != nil || claims.TenantID == nil || *claims.TenantID != mine {
		t.Errorf("switched claims = %+v, %v", claims, err)
	}
}

func TestHTTP_LogoutThenRefresh(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h)
	data := registerJohn(t, r)

	code, _ := call(t, r, http.MethodPost, "/api/v1/auth/logout", "", nil)
	if code != http.StatusBadRequest {
		t.Errorf("logout without header = %d, want 400", code)
	}
	code, _ = call(t, r, http.MethodPost, "/api/v1/auth/logout", "garbage", nil)
	if code != http.StatusUnauthorized {
		t.Errorf("logout with bad token = %d, want 401", code)
	}
	code, _ = call(t, r, http.MethodPost, "/api/v1/auth/logout", data.Tokens.AccessToken, nil)
	if code != http.StatusOK {
		t.Fatalf("logout = %d", code)
	}
	code, _ = call(t, r, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refreshToken": data.Tokens.RefreshToken})
	if code != http.StatusUnauthorized {
		t.Errorf("refresh after logout = %d, want 401", code)
	}
	code, _ = call(t, r, http.MethodGet, "/api/v1/auth/profile", data.Tokens.AccessToken, nil)
	if code != http.StatusUnauthorized {
		t.Errorf("access token after logout = %d, want 401", code)
	}
}

func TestHTTP_RefreshRoundTrip(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h)
	data := registerJohn(t, r)

	code, env := call(t, r, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refreshToken": data.Tokens.RefreshToken})
	if code != http.StatusOK {
		t.Fatalf("refresh = %d %q", code, env.Message)
	}
	var refreshed struct {
		Tokens security.TokenPair `json:"tokens"`
	}
	_ = json.Unmarshal(env.Data, &refreshed)
	code, _ = call(t, r, http.MethodGet, "/api/v1/auth/profile", refreshed.Tokens.AccessToken, nil)
	if code != http.StatusOK {
		t.Errorf("profile with refreshed token = %d", code)
	}
	code, _ = call(t, r, http.MethodPost, "/api/v1/auth/refresh", "", gin.H{"refreshToken": data.Tokens.AccessToken})
	if code != http.StatusUnauthorized {
		t.Errorf("access token as refresh = %d, want 401", code)
	}
}

func TestHTTP_SessionManagement(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h)
	data := registerJohn(t, r)

	_, env := call(t, r, http.MethodPost, "/api/v1/auth/login", "", gin.H{"emailOrPhone": "john@x.com", "password": testPassword})
	var second tokensData
	_ = json.Unmarshal(env.Data, &second)

	code, env := call(t, r, http.MethodGet, "/api/v1/auth/sessions", data.Tokens.AccessToken, nil)
	if code != http.StatusOK {
		t.Fatalf("sessions = %d", code)
	}
	var listed struct {
		Sessions []models.SessionPublic `json:"sessions"`
	}
	_ = json.Unmarshal(env.Data, &listed)
	if len(listed.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(listed.Sessions))
	}

	code, _ = call(t, r, http.MethodDelete, "/api/v1/auth/sessions/not-a-uuid", data.Tokens.AccessToken, nil)
	if code != http.StatusBadRequest {
		t.Errorf("bad session id = %d", code)
	}
	code, _ = call(t, r, http.MethodDelete, "/api/v1/auth/sessions/"+uuid.NewString(), data.Tokens.AccessToken, nil)
	if code != http.StatusNotFound {
		t.Errorf("unknown session = %d", code)
	}

	code, _ = call(t, r, http.MethodDelete, "/api/v1/auth/sessions", data.Tokens.AccessToken, nil)
	if code != http.StatusOK {
		t.Fatalf("revoke others = %d", code)
	}
	// the other device is rejected even though its token is still signed and unexpired
	code, env = call(t, r, http.MethodGet, "/api/v1/auth/profile", second.Tokens.AccessToken, nil)
	if code != http.StatusUnauthorized || env.Message != "Session expired or revoked" {
		t.Errorf("revoked device = %d %q", code, env.Message)
	}
	code, env = call(t, r, http.MethodGet, "/api/v1/auth/profile", data.Tokens.AccessToken, nil)
	if code != http.StatusOK {
		t.Fatalf("current device = %d", code)
	}
	var profile struct {
		User models.UserPublic `json:"user"`
	}
	_ = json.Unmarshal(env.Data, &profile)
	if profile.User.ID != data.User.ID || profile.User.FirstName != "John" {
		t.Errorf("profile = %+v", profile.User)
	}
}

func TestHTTP_Companies(t *testing.T) {
	h := newHarness(t)
	r := newRouter(h)
	data := registerJohn(t, r)

	code, env := call(t, r, http.MethodGet, "/api/v1/auth/companies", data.Tokens.AccessToken, nil)
	if code != http.StatusOK {
		t.Fatalf("companies = %d", code)
	}
	if string(env.Data) != `{"companies":[]}` {
		t.Errorf("empty companies = %s", env.Data)
	}
	h.tenants.add("acme", data.User.ID, models.RoleEmployee)
	_, env = call(t, r, http.MethodGet, "/api/v1/auth/companies", data.Tokens.AccessToken, nil)
	var listed struct {
		Companies []models.TenantMembership `json:"companies"`
	}
	_ = json.Unmarshal(env.Data, &listed)
	if len(listed.Companies) != 1 || listed.Companies[0].Role != models.RoleEmployee {
		t.Errorf("companies = %+v", listed.Companies)
	}
}


func TestHTTP_Health(t *testing.T) {
	r := newRouter(newHarness(t))
	code, env := call(t, r, http.MethodGet, "/api/v1/auth/health", "", nil)
	if code != http.StatusOK || !env.Success {
		t.Fatalf("health = %d %+v", code, env)
	}
	var data struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.Status != "ok" {
		t.Errorf("health data = %s", env.Data)
	}
}
