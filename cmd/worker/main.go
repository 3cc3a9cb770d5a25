// Package main runs the background session worker (activity touches, purge of dead sessions).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/threadline-erp/backend/config"
	"github.com/threadline-erp/backend/internal/sessions"
	"github.com/threadline-erp/backend/internal/worker"
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

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	sessionRepo := sessions.NewRepository(pool, cfg.Database.QueryTimeout)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if rdb != nil {
		defer rdb.Close()
	}

	var processor *worker.SessionProcessor
	if rdb != nil {
		processor = worker.NewSessionProcessor(sessionRepo, queue.NewQueue(rdb.Raw(), logger), logger)
		go processor.Run(workerCtx)
		logger.Info("session touch worker started")
	} else {
		// Without Redis the server touches sessions synchronously; only purge runs here.
		processor = worker.NewSessionProcessor(sessionRepo, nil, logger)
	}
	go processor.RunPurge(workerCtx, cfg.Sessions.PurgeInterval, cfg.Sessions.Retention)
	logger.Info("session purge started",
		zap.Duration("interval", cfg.Sessions.PurgeInterval),
		zap.Duration("retention", cfg.Sessions.Retention))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	time.Sleep(2 * time.Second)
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
