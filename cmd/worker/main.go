package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

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
	logger.Info("starting mailcleaner worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// 2. Stores and batch components
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()
	logger.Info("store ready", "backend", cfg.Backend)

	// 3. Scheduler loop; returns once every in-flight job has finished.
	sched := a.Scheduler()
	for _, j := range sched.Jobs() {
		logger.Info("job armed", "job", j.Name, "every", j.Interval, "next_run", j.NextRun)
	}
	if err := sched.Run(ctx); err != nil {
		logger.Error("scheduler stopped", "error", err)
		return
	}
	logger.Info("worker shut down cleanly")
}
