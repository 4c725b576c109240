package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sensor-agent/agent"
	"sensor-agent/config"
	"sensor-agent/database"
	"sensor-agent/web"

	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	// Initialize logger with default level to load config
	tempLogger, err := config.InitLogger("info")
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load(tempLogger)

	// Re-initialize logger with configured level
	logger, err := config.InitLogger(cfg.LogLevel)
	if err != nil {
		fmt.Printf("Failed to re-initialize logger with configured level: %v\n", err)
		os.Exit(1)
	}
	defer config.Cleanup()

	// The store is optional: without a database the service still answers
	// queries, it just loses transcripts and resumable state across restarts.
	var store *database.PostgresStore
	if cfg.DatabaseURL != "" {
		store, err = database.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			logger.Warn("Database unavailable, running without persistence", zap.Error(err))
			store = nil
		} else if err := store.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to ensure database schema", zap.Error(err))
		}
	}

	sensorAgent, err := agent.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize agent", zap.Error(err))
	}

	if err := os.MkdirAll(cfg.ArtifactDir, 0o755); err != nil {
		logger.Fatal("Failed to create artifact directory", zap.Error(err))
	}

	webServer := web.NewServer(sensorAgent, store, logger, cfg)

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	port := fmt.Sprintf(":%d", cfg.WebPort)
	logger.Info("Starting sensor agent web server", zap.String("port", port))
	if err := webServer.Start(ctx, port); err != nil {
		logger.Error("Web server error", zap.Error(err))
		os.Exit(1)
	}
}
