// Package main applies or rolls back the embedded database migrations.
//
// Usage: migrate [up|down]
package main

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/threadline-erp/backend/config"
	"github.com/threadline-erp/backend/pkg/database"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if err := database.Migrate(cfg.Database.DSN(), direction, logger); err != nil {
		logger.Fatal("migrate", zap.String("direction", direction), zap.Error(err))
	}
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
