package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mailcleaner/internal/app"
	"mailcleaner/internal/config"
)

func main() {
	// 1. Configuration
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, config.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	logger := cfg.Logger(os.Stdout)
	if cfg.APIKey == "" {
		logger.Warn("API_SECRET_KEY not set; every protected endpoint will answer 500")
	}

	// 2. Build the root context used for background scans. Cancelling it
	// on shutdown stops an accepted scan at its next chunk boundary.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Stores, validator and batch components
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	logger.Info("store ready", "backend", cfg.Backend)

	// 4. Server configuration
	srv := newServer(ctx, a, cfg.APIKey)
	server := &http.Server{
		Addr:         cfg.Listen,
		Handler:      srv.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	// 5. Graceful shutdown on SIGTERM / SIGINT.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("mailcleaner API running", "addr", cfg.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-quit:
		logger.Info("shutdown signal received, draining in-flight requests")
	case err := <-serveErr:
		logger.Error("server error", "error", err)
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	srv.bg.Wait()
	logger.Info("server shut down cleanly")
}
