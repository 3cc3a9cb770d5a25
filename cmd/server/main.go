// Package main runs the ERP auth HTTP server with the session event stream and graceful shutdown.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/threadline-erp/backend/config"
	"github.com/threadline-erp/backend/internal/auth"
	"github.com/threadline-erp/backend/internal/middleware"
	"github.com/threadline-erp/backend/internal/realtime"
	"github.com/threadline-erp/backend/internal/security"
	"github.com/threadline-erp/backend/internal/sessions"
	"github.com/threadline-erp/backend/internal/tenants"
	"github.com/threadline-erp/backend/internal/validation"
	"github.com/threadline-erp/backend/pkg/database"
	"github.com/threadline-erp/backend/pkg/queue"
	"github.com/threadline-erp/backend/pkg/redis"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if !cfg.Server.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	validation.Register()

	if err := database.Migrate(cfg.Database.DSN(), "up", logger); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	tokens := security.NewTokenCodec(security.TokenConfig{
		AccessSecret:  cfg.JWT.AccessSecret,
		RefreshSecret: cfg.JWT.RefreshSecret,
		Issuer:        cfg.JWT.Issuer,
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		Leeway:        cfg.JWT.Leeway,
	})
	hasher := security.NewHasher(cfg.Security.BcryptCost)

	userRepo := auth.NewRepository(pool, cfg.Database.QueryTimeout)
	sessionRepo := sessions.NewRepository(pool, cfg.Database.QueryTimeout)
	tenantRepo := tenants.NewRepository(pool, cfg.Database.QueryTimeout)

	// Session events fan out through Redis so every instance can close revoked streams.
	var hub *realtime.Hub
	var touches sessions.TouchEnqueuer
	if rdb != nil {
		pubsub := realtime.NewRedisPubSub(rdb.Raw(), logger)
		hub = realtime.NewHub(logger, pubsub, pubsub)
		touches = queue.NewQueue(rdb.Raw(), logger)
	} else {
		hub = realtime.NewHub(logger, nil, nil)
	}
	activity := sessions.NewActivityRecorder(sessionRepo, touches, cfg.Sessions.TouchInterval, logger)
	authn := middleware.NewAuthenticator(tokens, sessionRepo, tenantRepo, activity, cfg.Sessions.TouchInterval)

	authService := auth.NewService(userRepo, sessionRepo, tenantRepo, tokens, hasher, hub, logger)
	authHandler := auth.NewHandler(authService, tokens)
	tenantService := tenants.NewService(tenantRepo, userRepo, logger)
	tenantHandler := tenants.NewHandler(tenantService)

	limitStore, err := middleware.NewLimiterStore(rdb.Raw())
	if err != nil {
		logger.Fatal("rate limit store", zap.Error(err))
	}
	limits := auth.RouteLimits{
		Register: mustRateLimit(logger, limitStore, "register", cfg.RateLimit.Register),
		Auth:     mustRateLimit(logger, limitStore, "auth", cfg.RateLimit.Auth),
		User:     mustRateLimit(logger, limitStore, "user", cfg.RateLimit.User),
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Errors(logger, cfg.Server.IsDevelopment()))

	router.GET("/health", auth.Health)

	api := router.Group("/api/v1")
	isolation := middleware.TenantIsolation(authn)

	authGroup := api.Group("/auth")
	authHandler.RegisterRoutes(authGroup, isolation, limits)
	// WebSocket (token in query; browsers cannot set Authorization on upgrade)
	authGroup.GET("/events", realtime.ServeWs(hub, logger, authn, realtime.CheckOrigin(cfg.Server.CORSAllowedOrigins)))

	tenantHandler.RegisterRoutes(api.Group("/companies"), isolation, limits.User)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func mustRateLimit(logger *zap.Logger, store limiter.Store, class, formatted string) gin.HandlerFunc {
	mw, err := middleware.RateLimit(store, class, formatted)
	if err != nil {
		logger.Fatal("rate limit", zap.String("class", class), zap.Error(err))
	}
	return mw
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
