package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code-review-pipeline/internal/config"
	"code-review-pipeline/internal/kernel"
	"code-review-pipeline/internal/logs"
	"code-review-pipeline/internal/server"
	"code-review-pipeline/internal/storage"
)

func main() {

	// Load configuration first
	cfg := config.LoadConfig()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	// Setup structured logging with configurable level, format, and output
	logger, logCleanup := logs.SetupLogger(cfg)
	defer logCleanup()
	slog.SetDefault(logger)

	// Merge the discovered model list over the static provider config
	if err := cfg.MergeModelsConfig(cfg.DataDir); err != nil {
		slog.Warn("merge models config failed", "error", err)
	}

	// Initialize storage
	var store storage.Repository
	if cfg.Storage.Driver == "sqlite" {
		var err error
		store, err = storage.NewSQLiteRepository(cfg.Storage.DSN)
		if err != nil {
			slog.Error("init storage failed", "error", err)
			os.Exit(1)
		}
		defer store.Close()
	} else if cfg.Storage.Driver != "" {
		slog.Warn("unknown storage driver", "driver", cfg.Storage.Driver)
	}

	k := kernel.New(cfg, store)
	srv := server.New(cfg, k, store)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server start failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("server stopping")

	// Give the server 5 seconds to shutdown gracefully
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server shutdown forced", "error", err)
		os.Exit(1)
	}

	// Wait for in-flight review sessions
	slog.Info("waiting for sessions")
	done := make(chan struct{})
	go func() {
		srv.WaitForCompletion()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("sessions completed")
	case <-time.After(30 * time.Second):
		slog.Warn("session drain timeout, exiting")
	}

	slog.Info("server stopped")
}
