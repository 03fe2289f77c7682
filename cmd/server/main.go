package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/dedupeit/internal/config"
	"github.com/JonMunkholm/dedupeit/internal/core"
	"github.com/JonMunkholm/dedupeit/internal/database"
	"github.com/JonMunkholm/dedupeit/internal/logging"
	"github.com/JonMunkholm/dedupeit/internal/web"
)

// memoryHistorySize is how many runs are kept when no database is configured.
const memoryHistorySize = 50

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"dedupe_url", cfg.Dedupe.ServiceURL,
		"dedupe_timeout", cfg.Dedupe.Timeout,
		"history_db", cfg.Database.Enabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()

	var (
		recorder core.RunRecorder
		lister   core.RunLister
		pool     *pgxpool.Pool
	)
	// Run history goes to Postgres when configured, memory otherwise
	if cfg.Database.Enabled() {
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		// Create the history table on first start
		pg := core.NewPostgresHistory(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("failed to prepare run history table", "error", err)
			os.Exit(1)
		}
		recorder, lister = pg, pg
	} else {
		mem := core.NewMemoryHistory(memoryHistorySize)
		recorder, lister = mem, mem
		slog.Info("no database configured, keeping run history in memory", "size", memoryHistorySize)
	}

	// Create dedupe client with config
	client, err := core.NewClient(core.ClientOptions{
		BaseURL:          cfg.Dedupe.ServiceURL,
		APIKey:           cfg.Dedupe.APIKey,
		Timeout:          cfg.Dedupe.Timeout,
		MaxResponseBytes: cfg.Dedupe.MaxResponseBytes,
	})
	if err != nil {
		slog.Error("failed to create dedupe client", "error", err)
		os.Exit(1)
	}

	// Create orchestrator and server
	orch := core.NewOrchestrator(client, core.WithRunRecorder(recorder))
	server := web.NewServer(cfg, orch, lister)

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		// Cancel the in-flight dedupe call and wait for its goroutine
		if err := orch.Shutdown(shutdownCtx); err != nil {
			slog.Warn("in-flight dedupe did not stop in time", "error", err)
		}
	}()

	// Start server (uses addr from config internally)
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-stopped
	slog.Info("server stopped")
}
