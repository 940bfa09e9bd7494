// Package app wires the stores, validator and batch components from process
// configuration. Every binary builds exactly one App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"mailcleaner/internal/cache"
	"mailcleaner/internal/config"
	"mailcleaner/internal/intake"
	"mailcleaner/internal/lock"
	"mailcleaner/internal/lookup"
	"mailcleaner/internal/metrics"
	"mailcleaner/internal/models"
	"mailcleaner/internal/notify"
	"mailcleaner/internal/proxy"
	"mailcleaner/internal/queue"
	"mailcleaner/internal/revalidation"
	"mailcleaner/internal/scan"
	"mailcleaner/internal/settings"
	"mailcleaner/internal/store"
	"mailcleaner/internal/validator"
	"mailcleaner/internal/worker"
)

// ErrNoSubscriberStore means the subscriber list could not be reached at
// startup. Nothing in the core can run without it.
var ErrNoSubscriberStore = errors.New("app: subscriber store unavailable")

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     store.Store
	Settings  *settings.FileProvider
	Metrics   *metrics.Metrics
	Validator *validator.Validator
	Guard     *lock.Guard
	Queue     *queue.Queue
	Processor *revalidation.Processor
	Scanner   *scan.Coordinator
	Intake    *intake.Intake

	closers []func() error
}

// New opens the configured backend and builds every component.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	if _, err := st.CountSubscribers(ctx, ""); err != nil {
		a.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoSubscriberStore, err)
	}

	var locks store.LockStore = st
	if cfg.RedisAddr != "" {
		r, err := lock.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		locks = r
		a.closers = append(a.closers, r.Close)
		logger.Info("batch locks held in redis", "addr", cfg.RedisAddr)
	}

	a.Settings = settings.NewFileProvider(cfg.SettingsFile, logger)
	s, err := a.Settings.Snapshot()
	if err != nil {
		logger.Warn("settings file unusable, starting with defaults", "error", err)
	}

	v, err := a.buildValidator(cfg, s)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Validator = v

	sink := a.buildSink(cfg)
	listener := notify.Listeners{notify.LogListener{Logger: logger.With("component", "events")}, a.Metrics}

	a.Guard = lock.NewGuard(locks, nil, nil, logger)
	a.Queue = queue.New(st, nil, logger)

	procOpts := []revalidation.Option{
		revalidation.WithSink(sink),
		revalidation.WithMetrics(a.Metrics),
		revalidation.WithLogger(logger),
	}
	scanOpts := []scan.Option{
		scan.WithSink(sink),
		scan.WithListener(listener),
		scan.WithMetrics(a.Metrics),
		scan.WithLogger(logger),
		scan.WithConcurrency(cfg.ScanConcurrency),
	}
	if cfg.LockTTL > 0 && cfg.StaleCeiling >= cfg.LockTTL {
		procOpts = append(procOpts, revalidation.WithLockTTL(cfg.LockTTL))
		scanOpts = append(scanOpts, scan.WithLockTTL(cfg.LockTTL, cfg.StaleCeiling))
	}
	a.Processor = revalidation.New(a.Queue, st, v, a.Guard, procOpts...)
	a.Scanner = scan.New(st, v, a.Guard, a.Queue, scanOpts...)
	a.Intake = intake.New(st, v,
		intake.WithListener(listener),
		intake.WithMetrics(a.Metrics),
		intake.WithLogger(logger),
	)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		return store.OpenPostgres(ctx, cfg.DatabaseURL)
	case config.BackendBolt:
		return store.OpenBolt(cfg.BoltPath)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// buildValidator enables the DNS and SMTP stages unless running offline.
func (a *App) buildValidator(cfg *config.Config, s models.Settings) (*validator.Validator, error) {
	opts := []validator.Option{
		validator.WithRuleSource(a.Settings.RuleSet),
		validator.WithObserver(a.Metrics.ObserveValidation),
		validator.WithLogger(a.Logger),
		validator.WithBatchPause(s.PauseEvery, s.Pause),
	}
	if cfg.Offline {
		a.Logger.Info("offline mode: DNS and SMTP stages disabled")
		return validator.New(nil, opts...), nil
	}

	prober := lookup.NewProber(s.SMTPTimeout, cfg.ProbeConns)
	if cfg.HeloHost != "" {
		prober.HeloHost = cfg.HeloHost
	}
	if cfg.MailFrom != "" {
		prober.MailFrom = cfg.MailFrom
	}
	if len(cfg.Proxies) > 0 {
		pm, err := proxy.NewManager(cfg.Proxies, cfg.ProxyConcurrency)
		if err != nil {
			return nil, fmt.Errorf("proxy list: %w", err)
		}
		prober.Dial = pm.Dialer(s.SMTPTimeout, a.Logger)
		a.Logger.Info("SMTP probe routed through proxies", "proxies", len(cfg.Proxies), "limit", pm.Limit())
	}

	opts = append(opts,
		validator.WithResolver(lookup.NewResolver(cfg.DNSTimeout)),
		validator.WithProber(prober),
	)
	var domains *cache.Store[lookup.DomainStatus]
	if cfg.DNSCacheTTL > 0 {
		domains = cache.New[lookup.DomainStatus](cfg.DNSCacheSize, cfg.DNSCacheTTL)
	}
	opts = append(opts, validator.WithDomainCache(domains))
	return validator.New(nil, opts...), nil
}

func (a *App) buildSink(cfg *config.Config) notify.Sink {
	logSink := notify.LogSink{Logger: a.Logger.With("component", "notify")}
	if cfg.NotifyAddr == "" {
		return logSink
	}
	return notify.Multi{logSink, notify.NewSMTP(cfg.NotifyAddr, cfg.NotifyFrom, cfg.NotifyTo, cfg.NotifyUser, cfg.NotifyPassword)}
}

// Scheduler builds the worker scheduler with the standard jobs and hands it
// to the health check so lost jobs get re-armed.
func (a *App) Scheduler() *worker.Scheduler {
	sched := worker.New(a.Store, worker.WithLogger(a.Logger), worker.WithTick(a.Config.Tick))
	worker.Register(sched, worker.Deps{
		Settings:  a.Settings,
		Queue:     a.Queue,
		Processor: a.Processor,
		Scanner:   a.Scanner,
	})
	a.Scanner.SetTriggers(sched)
	return sched
}

// Close releases the backend and the lock client.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
