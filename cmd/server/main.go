package main

// Package main is the entry point for the incident agent server.
//
// Responsibilities:
//   - Load and validate configuration from YAML and environment variables
//   - Open the SQLite store that backs incident memory and runbooks
//   - Build the LLM adapter for the configured provider
//   - Wire the investigation engine with per-org credential resolution
//   - Start the HTTP server: alert intake, investigation API, WebSocket
//     streaming, health checks, and Prometheus metrics
//   - Implement graceful shutdown with context cancellation
//
// Graceful Shutdown:
//   - Stops accepting HTTP requests
//   - Waits for (or cancels) in-flight investigations
//   - Closes the store and finalizes audit logs

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/incidentops/incident-agent/internal/audit"
	"github.com/incidentops/incident-agent/internal/config"
	"github.com/incidentops/incident-agent/internal/credentials"
	"github.com/incidentops/incident-agent/internal/engine"
	"github.com/incidentops/incident-agent/internal/llm/adapter"
	"github.com/incidentops/incident-agent/internal/server"
	"github.com/incidentops/incident-agent/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "incident-agent: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	configPath := os.Getenv("INCIDENTAGENT_CONFIG")
	manager := config.NewManager(configPath)
	if err := manager.Load(ctx); err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := manager.Validate(ctx); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := manager.Get(ctx)

	auditLogger, err := audit.NewLogger(&audit.Config{
		AuditLogPath: cfg.Logging.AuditLogPath,
		AppLogPath:   cfg.Logging.AppLogPath,
		MaxSize:      100,
		MaxBackups:   10,
		MaxAge:       30,
		Compress:     true,
		LogLevel:     cfg.Logging.Level,
		Format:       cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer auditLogger.Close()

	logger := auditLogger.App()
	logger.Info("configuration loaded",
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("database", cfg.Database.Path),
		zap.Int("max_iterations", cfg.Agent.MaxIterations),
	)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	reasoner, err := adapter.New(cfg.LLM, logger)
	if err != nil {
		return fmt.Errorf("initialize llm adapter: %w", err)
	}

	resolver := credentials.NewResolver(nil, cfg)
	eng := engine.New(cfg, db, resolver, reasoner, auditLogger)

	srv, err := server.NewServer(cfg, eng, auditLogger)
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	auditLogger.Log(ctx, audit.NewEvent(audit.EventServerStarted).
		WithResult(audit.ResultSuccess).
		WithDescription(fmt.Sprintf("Server listening on %s:%d", cfg.Server.Host, cfg.Server.Port)))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutdown signal received", zap.String("signal", sig.String()))

	if err := srv.Stop(); err != nil {
		logger.Error("server stop", zap.Error(err))
	}

	auditLogger.Log(ctx, audit.NewEvent(audit.EventServerShutdown).
		WithResult(audit.ResultSuccess).
		WithDescription("Server shut down cleanly"))

	return auditLogger.Sync()
}
