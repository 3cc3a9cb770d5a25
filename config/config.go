package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Security  SecurityConfig
	RateLimit RateLimitConfig
	Sessions  SessionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string `env:"PORT" envDefault:"8080"`
	Env                string `env:"APP_ENV" envDefault:"production"`
	ReadTimeout        int    `env:"READ_TIMEOUT_SEC" envDefault:"30"`
	WriteTimeout       int    `env:"WRITE_TIMEOUT_SEC" envDefault:"30"`
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000,http://localhost:5173"` // comma-separated, or "*"
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL          string        `env:"DATABASE_URL"` // if set, used as-is
	Host         string        `env:"DB_HOST" envDefault:"localhost"`
	Port         string        `env:"DB_PORT" envDefault:"5432"`
	User         string        `env:"DB_USER" envDefault:"postgres"`
	Password     string        `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName       string        `env:"DB_NAME" envDefault:"erp"`
	SSLMode      string        `env:"DB_SSLMODE" envDefault:"disable"`
	QueryTimeout time.Duration `env:"DB_QUERY_TIMEOUT" envDefault:"15s"`
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis-backed features.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// JWTConfig holds token signing and validation settings.
type JWTConfig struct {
	AccessSecret  string        `env:"JWT_ACCESS_SECRET"`
	RefreshSecret string        `env:"JWT_REFRESH_SECRET"`
	Issuer        string        `env:"JWT_ISSUER" envDefault:"threadline-erp"`
	AccessTTL     time.Duration `env:"JWT_ACCESS_TTL" envDefault:"24h"`
	RefreshTTL    time.Duration `env:"JWT_REFRESH_TTL" envDefault:"168h"`
	Leeway        time.Duration `env:"JWT_LEEWAY" envDefault:"30s"`
}

// SecurityConfig holds password hashing settings.
type SecurityConfig struct {
	BcryptCost int `env:"BCRYPT_COST" envDefault:"12"`
}

// RateLimitConfig holds per-route-class budgets in ulule/limiter format ("<limit>-<S|M|H|D>").
type RateLimitConfig struct {
	Register string `env:"RATE_LIMIT_REGISTER" envDefault:"5-M"`
	Auth     string `env:"RATE_LIMIT_AUTH" envDefault:"20-M"`
	User     string `env:"RATE_LIMIT_USER" envDefault:"300-M"`
}

// SessionConfig holds session maintenance settings used by the worker.
type SessionConfig struct {
	PurgeInterval time.Duration `env:"SESSION_PURGE_INTERVAL" envDefault:"1h"`
	Retention     time.Duration `env:"SESSION_RETENTION" envDefault:"720h"`
	TouchInterval time.Duration `env:"SESSION_TOUCH_INTERVAL" envDefault:"1m"`
}

// MinSecretLength is the minimum JWT secret length outside development.
const MinSecretLength = 32

// MinBcryptCost is the lowest accepted bcrypt cost factor.
const MinBcryptCost = 10

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// IsDevelopment reports whether the server runs in development mode.
func (c ServerConfig) IsDevelopment() bool {
	switch strings.ToLower(c.Env) {
	case "development", "dev", "local":
		return true
	}
	return false
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that would weaken token or password handling.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET are required")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return errors.New("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}
	if !c.Server.IsDevelopment() {
		if len(c.JWT.AccessSecret) < MinSecretLength || len(c.JWT.RefreshSecret) < MinSecretLength {
			return fmt.Errorf("JWT secrets must be at least %d characters", MinSecretLength)
		}
	}
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}
	if c.Security.BcryptCost < MinBcryptCost {
		return fmt.Errorf("BCRYPT_COST must be at least %d", MinBcryptCost)
	}
	return nil
}
