// Package main is the entry point for the bizledger API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bizledger/internal/app"
	"bizledger/internal/config"
	v1 "bizledger/internal/infrastructure/http/v1"
	"bizledger/internal/infrastructure/http/v1/handlers"
	"bizledger/pkg/logger"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Logger.Level,
		Development: cfg.Logger.Development,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	ctx := context.Background()
	log.Infow("starting bizledger server", "version", version)

	ledger, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalw("failed to assemble ledger", "error", err)
	}
	defer ledger.Close()

	checks := map[string]handlers.Checker{}
	if ledger.Pool != nil {
		checks["database"] = ledger.Pool.Ping
	}
	if ledger.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return ledger.Redis.Ping(ctx).Err() }
	}

	router := v1.NewRouter(v1.RouterConfig{
		Logger:       log,
		Numbering:    ledger.Numbering,
		Stock:        ledger.Stock,
		Quotes:       ledger.Quotes,
		Invoices:     ledger.Invoices,
		Audit:        ledger.Audit,
		HealthChecks: checks,
		Version:      version,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Infow("server listening", "addr", cfg.Server.Addr, "storage", cfg.Ledger.Storage)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
