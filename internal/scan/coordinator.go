// Package scan sweeps the confirmed subscriber list, unsubscribes addresses
// that no longer validate, and keeps the batch locks healthy.
package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"mailcleaner/internal/clock"
	"mailcleaner/internal/lock"
	"mailcleaner/internal/metrics"
	"mailcleaner/internal/models"
	"mailcleaner/internal/notify"
	"mailcleaner/internal/queue"
	"mailcleaner/internal/store"
)

const (
	DefaultLockTTL      = time.Hour
	DefaultStaleCeiling = 2 * time.Hour
	defaultConcurrency  = 4
)

type Validator interface {
	Validate(ctx context.Context, email string, deep bool) *models.ValidationResult
}

type Backend interface {
	store.SubscriberStore
	store.AuditStore
	store.ScanStore
}

// Triggers is the scheduler side of the health check.
type Triggers interface {
	// Rearm schedules any job that lost its next run and returns their names.
	Rearm(now time.Time) []string
}

type Coordinator struct {
	store       Backend
	validator   Validator
	guard       *lock.Guard
	queue       *queue.Queue
	sink        notify.Sink
	listener    notify.Listener
	metrics     *metrics.Metrics
	triggers    Triggers
	clock       clock.Clock
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
	lockTTL     time.Duration
	ceiling     time.Duration
	concurrency int
}

type Option func(*Coordinator)

func WithSink(s notify.Sink) Option { return func(c *Coordinator) { c.sink = s } }

func WithListener(l notify.Listener) Option { return func(c *Coordinator) { c.listener = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Coordinator) { c.metrics = m } }

func WithClock(clk clock.Clock) Option { return func(c *Coordinator) { c.clock = clk } }

func WithLogger(l *slog.Logger) Option { return func(c *Coordinator) { c.logger = l } }

// WithConcurrency bounds how many addresses validate at once inside a chunk.
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithSleep replaces the pause between chunks.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Coordinator) { c.sleep = fn }
}

func WithLockTTL(ttl, ceiling time.Duration) Option {
	return func(c *Coordinator) { c.lockTTL, c.ceiling = ttl, ceiling }
}

func New(st Backend, v Validator, g *lock.Guard, q *queue.Queue, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:       st,
		validator:   v,
		guard:       g,
		queue:       q,
		clock:       clock.System{},
		logger:      slog.Default(),
		sleep:       sleepCtx,
		lockTTL:     DefaultLockTTL,
		ceiling:     DefaultStaleCeiling,
		concurrency: defaultConcurrency,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = c.logger.With("component", "scan")
	return c
}

// SetTriggers attaches the scheduler once it exists.
func (c *Coordinator) SetTriggers(t Triggers) { c.triggers = t }

// Result is the outcome of one scan request.
type Result struct {
	Outcome models.Outcome      `json:"outcome"`
	Message string              `json:"message"`
	Summary *models.ScanSummary `json:"summary,omitempty"`
}

// Running returns the current scan lock, or nil when idle.
func (c *Coordinator) Running(ctx context.Context) (*models.Lock, error) {
	return c.guard.Status(ctx, lock.Scan)
}

// Run performs a full scan unless one is already in progress.
func (c *Coordinator) Run(ctx context.Context, typ models.ScanType, s models.Settings) (*Result, error) {
	cl, err := c.Start(ctx)
	if errors.Is(err, lock.ErrHeld) {
		c.logger.Info("scan already running")
		c.metrics.ObserveBatch("scan", models.OutcomeSkippedLocked, 0)
		return &Result{Outcome: models.OutcomeSkippedLocked, Message: "Scan already in progress"}, nil
	}
	if err != nil {
		c.metrics.ObserveBatch("scan", models.OutcomeFailed, 0)
		return &Result{Outcome: models.OutcomeFailed, Message: "Scan failed: " + err.Error()}, err
	}
	return cl.Run(ctx, typ, s)
}

// Claim is a scan whose lock is held but whose sweep has not started.
type Claim struct {
	c *Coordinator
	h *lock.Handle
}

// Start takes the scan lock, or returns lock.ErrHeld. The caller must call
// Run on the claim, which releases the lock when the sweep ends.
func (c *Coordinator) Start(ctx context.Context) (*Claim, error) {
	h, err := c.guard.Acquire(ctx, lock.Scan, c.lockTTL)
	if err != nil {
		return nil, err
	}
	return &Claim{c: c, h: h}, nil
}

// Lock describes the held scan lock.
func (cl *Claim) Lock() models.Lock { return cl.h.Lock }

// Run sweeps the list under the claimed lock.
func (cl *Claim) Run(ctx context.Context, typ models.ScanType, s models.Settings) (res *Result, err error) {
	c, h := cl.c, cl.h
	start := c.clock.Now()
	res = &Result{}
	defer func() {
		if err != nil {
			res.Outcome = models.OutcomeFailed
			res.Message = "Scan failed: " + err.Error()
		}
		c.metrics.ObserveBatch("scan", res.Outcome, c.clock.Now().Sub(start))
	}()
	defer h.Release(ctx)

	sum := &models.ScanSummary{RunID: h.Lock.Owner, Type: typ, StartedAt: start}
	res.Summary = sum
	c.logger.Info("scan started", "run", sum.RunID, "type", typ, "deep", s.EnableDeepValidation)

	if err := c.sweep(ctx, sum, s); err != nil {
		return res, err
	}

	cutoff := c.clock.Now().AddDate(0, 0, -s.LogRetentionDays)
	if s.LogRetentionDays > 0 {
		n, err := c.store.PruneAudit(ctx, cutoff)
		if err != nil {
			c.logger.Error("audit cleanup failed", "error", err)
		}
		sum.Pruned = n
	}

	sum.FinishedAt = c.clock.Now()
	if err := c.store.AppendScanSummary(ctx, sum); err != nil {
		return res, fmt.Errorf("save scan summary: %w", err)
	}

	res.Outcome = models.OutcomeCompleted
	res.Message = fmt.Sprintf("Processed %d emails, unsubscribed %d", sum.Processed, sum.Unsubscribed)
	c.logger.Info("scan finished",
		"run", sum.RunID,
		"processed", sum.Processed,
		"invalid", sum.Invalid,
		"unsubscribed", sum.Unsubscribed,
		"errors", sum.Errors,
		"pruned", sum.Pruned,
	)
	notify.Deliver(ctx, c.sink, reportMessage(sum, s), c.logger)
	return res, nil
}

// sweep walks confirmed subscribers by id. Each page is cut into chunks of
// PauseEvery; a chunk validates concurrently, then its results are applied in
// order and the scan pauses before the next chunk.
func (c *Coordinator) sweep(ctx context.Context, sum *models.ScanSummary, s models.Settings) error {
	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := c.store.ListSubscribers(ctx, models.SubscriberConfirmed, after, s.ScanPageSize)
		if err != nil {
			return fmt.Errorf("list subscribers: %w", err)
		}
		if len(page) == 0 {
			return nil
		}
		after = page[len(page)-1].ID

		chunk := s.PauseEvery
		if chunk <= 0 {
			chunk = len(page)
		}
		for lo := 0; lo < len(page); lo += chunk {
			hi := min(lo+chunk, len(page))
			results, err := c.validateChunk(ctx, page[lo:hi], s.EnableDeepValidation)
			if err != nil {
				return err
			}
			for i, sub := range page[lo:hi] {
				c.apply(ctx, sub, results[i], sum, s)
			}
			if s.PauseEvery > 0 && s.Pause > 0 && hi-lo == s.PauseEvery {
				if err := c.sleep(ctx, s.Pause); err != nil {
					return err
				}
			}
		}
	}
}

func (c *Coordinator) validateChunk(ctx context.Context, subs []models.Subscriber, deep bool) ([]*models.ValidationResult, error) {
	results := make([]*models.ValidationResult, len(subs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			results[i] = c.validator.Validate(gctx, sub.Email, deep)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, ctx.Err()
}

// apply logs one result and unsubscribes when it falls short. Store failures
// are counted and logged; they never stop the sweep.
func (c *Coordinator) apply(ctx context.Context, sub models.Subscriber, res *models.ValidationResult, sum *models.ScanSummary, s models.Settings) {
	sum.Processed++

	if res.IsValid && res.Score >= s.MinimumScore {
		if err := c.store.AppendAudit(ctx, models.EntryFromResult(sub.ID, res, models.ActionNone)); err != nil {
			sum.Errors++
			c.logger.Error("audit write failed", "action", "error", "subscriber", sub.ID, "email", sub.Email, "error", err)
		}
		return
	}

	sum.Invalid++
	if err := c.store.SetSubscriberStatus(ctx, sub.ID, models.SubscriberUnsubscribed, c.clock.Now()); err != nil {
		sum.Errors++
		c.logger.Error("unsubscribe failed", "action", "error", "subscriber", sub.ID, "email", sub.Email, "error", err)
		return
	}
	sum.Unsubscribed++

	e := models.EntryFromResult(sub.ID, res, models.ActionAutoUnsubscribed)
	e.OldStatus, e.NewStatus = sub.Status, models.SubscriberUnsubscribed
	e.Reason = unsubscribeReason(res, s)
	if err := c.store.AppendAudit(ctx, e); err != nil {
		sum.Errors++
		c.logger.Error("audit write failed", "action", "error", "subscriber", sub.ID, "email", sub.Email, "error", err)
	}
	if c.listener != nil {
		c.listener.OnAutoUnsubscribed(ctx, sub, res)
	}
}

func unsubscribeReason(res *models.ValidationResult, s models.Settings) string {
	if !res.IsValid {
		return fmt.Sprintf("invalid (score %d, threshold %d)", res.Score, res.Threshold)
	}
	return fmt.Sprintf("score %d below minimum %d", res.Score, s.MinimumScore)
}

func reportMessage(sum *models.ScanSummary, s models.Settings) notify.Message {
	return notify.Message{
		Subject: "Email Cleaning Report",
		Body: fmt.Sprintf("Email cleaning scan completed.\n\nSummary:\n"+
			"- Total emails processed: %d\n"+
			"- Invalid emails found: %d\n"+
			"- Emails unsubscribed: %d\n\n"+
			"Scan completed at: %s\n",
			sum.Processed, sum.Invalid, sum.Unsubscribed, sum.FinishedAt.Format("2006-01-02 15:04:05")),
		To: s.NotifyRecipients,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
