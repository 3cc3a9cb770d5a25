package config

import (
	"strings"
	"testing"
	"time"
)

const (
	testAccessSecret  = "access-secret-with-at-least-32-characters"
	testRefreshSecret = "refresh-secret-with-at-least-32-characters"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("JWT_REFRESH_SECRET", testRefreshSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWT.AccessTTL != 24*time.Hour {
		t.Errorf("AccessTTL = %v, want 24h", cfg.JWT.AccessTTL)
	}
	if cfg.JWT.RefreshTTL != 7*24*time.Hour {
		t.Errorf("RefreshTTL = %v, want 168h", cfg.JWT.RefreshTTL)
	}
	if cfg.JWT.Leeway != 30*time.Second {
		t.Errorf("Leeway = %v, want 30s", cfg.JWT.Leeway)
	}
	if cfg.Security.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.Security.BcryptCost)
	}
	if cfg.Database.QueryTimeout != 15*time.Second {
		t.Errorf("QueryTimeout = %v, want 15s", cfg.Database.QueryTimeout)
	}
	if cfg.RateLimit.Register != "5-M" {
		t.Errorf("RateLimit.Register = %q, want 5-M", cfg.RateLimit.Register)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("JWT_ACCESS_SECRET", testAccessSecret)
	t.Setenv("JWT_REFRESH_SECRET", testRefreshSecret)
	t.Setenv("JWT_ACCESS_TTL", "15m")
	t.Setenv("BCRYPT_COST", "11")
	t.Setenv("PORT", "9090")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JWT.AccessTTL != 15*time.Minute {
		t.Errorf("AccessTTL = %v, want 15m", cfg.JWT.AccessTTL)
	}
	if cfg.Security.BcryptCost != 11 {
		t.Errorf("BcryptCost = %d, want 11", cfg.Security.BcryptCost)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:   ServerConfig{Env: "production"},
			JWT:      JWTConfig{AccessSecret: testAccessSecret, RefreshSecret: testRefreshSecret, AccessTTL: time.Hour, RefreshTTL: 2 * time.Hour},
			Security: SecurityConfig{BcryptCost: 12},
		}
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "missing access secret", mutate: func(c *Config) { c.JWT.AccessSecret = "" }, wantErr: "required"},
		{name: "equal secrets", mutate: func(c *Config) { c.JWT.RefreshSecret = c.JWT.AccessSecret }, wantErr: "must differ"},
		{name: "short secret in production", mutate: func(c *Config) { c.JWT.AccessSecret = "short" }, wantErr: "at least"},
		{name: "short secret in development", mutate: func(c *Config) {
			c.Server.Env = "development"
			c.JWT.AccessSecret = "short"
		}},
		{name: "zero ttl", mutate: func(c *Config) { c.JWT.AccessTTL = 0 }, wantErr: "positive"},
		{name: "weak bcrypt cost", mutate: func(c *Config) { c.Security.BcryptCost = 4 }, wantErr: "BCRYPT_COST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{User: "u", Password: "p", Host: "h", Port: "5432", DBName: "erp", SSLMode: "disable"}
	if got, want := c.DSN(), "postgres://u:p@h:5432/erp?sslmode=disable"; got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
	c.URL = "postgres://override"
	if got := c.DSN(); got != "postgres://override" {
		t.Errorf("DSN with URL = %q", got)
	}
}
