// Package revalidation re-scores previously rejected subscribers from the
// queue and decides whether they come back.
package revalidation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"mailcleaner/internal/clock"
	"mailcleaner/internal/lock"
	"mailcleaner/internal/metrics"
	"mailcleaner/internal/models"
	"mailcleaner/internal/notify"
	"mailcleaner/internal/queue"
	"mailcleaner/internal/store"
)

const (
	// DefaultLockTTL bounds one processing run.
	DefaultLockTTL = time.Hour

	processedBySystem = "system"
	itemActionError   = "error"
)

// Validator is the part of validator.Validator the processor needs.
type Validator interface {
	Validate(ctx context.Context, email string, deep bool) *models.ValidationResult
}

// Backend is the slice of the store the processor writes to.
type Backend interface {
	store.ResultStore
	store.AuditStore
	store.SubscriberStore
}

type Processor struct {
	queue     *queue.Queue
	store     Backend
	validator Validator
	guard     *lock.Guard
	sink      notify.Sink
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *slog.Logger
	lockTTL   time.Duration
}

type Option func(*Processor)

func WithSink(s notify.Sink) Option { return func(p *Processor) { p.sink = s } }

func WithMetrics(m *metrics.Metrics) Option { return func(p *Processor) { p.metrics = m } }

func WithClock(c clock.Clock) Option { return func(p *Processor) { p.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(p *Processor) { p.logger = l } }

func WithLockTTL(d time.Duration) Option { return func(p *Processor) { p.lockTTL = d } }

func New(q *queue.Queue, st Backend, v Validator, g *lock.Guard, opts ...Option) *Processor {
	p := &Processor{
		queue:     q,
		store:     st,
		validator: v,
		guard:     g,
		clock:     clock.System{},
		logger:    slog.Default(),
		lockTTL:   DefaultLockTTL,
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("component", "revalidation")
	return p
}

// ItemResult is the per-address line of a batch report.
type ItemResult struct {
	QueueItemID  int64             `json:"queue_item_id"`
	SubscriberID int64             `json:"subscriber_id"`
	Email        string            `json:"email"`
	Action       string            `json:"action"`
	Reason       string            `json:"reason"`
	OldScore     int               `json:"old_score"`
	NewScore     int               `json:"new_score"`
	Improvement  int               `json:"improvement"`
	Confidence   models.Confidence `json:"confidence,omitempty"`
	Notes        string            `json:"notes,omitempty"`
}

// BatchResult always carries the counts reached so far, even when the run
// stopped early.
type BatchResult struct {
	Outcome          models.Outcome `json:"outcome"`
	Message          string         `json:"message"`
	Processed        int            `json:"processed"`
	Resubscribed     int            `json:"resubscribed"`
	KeptUnsubscribed int            `json:"kept_unsubscribed"`
	ManualReview     int            `json:"manual_review"`
	Errors           int            `json:"errors"`
	Details          []ItemResult   `json:"details,omitempty"`
}

// ProcessQueue claims up to batchSize items and decides each one. A disabled
// feature flag or a run already in progress is a normal result, not an error.
func (p *Processor) ProcessQueue(ctx context.Context, batchSize int, s models.Settings) (res *BatchResult, err error) {
	start := p.clock.Now()
	res = &BatchResult{}
	defer func() {
		if err != nil {
			res.Outcome = models.OutcomeFailed
			res.Message = "Processing failed: " + err.Error()
		}
		p.metrics.ObserveBatch("revalidation", res.Outcome, p.clock.Now().Sub(start))
	}()

	if !s.RevalidationEnabled {
		res.Outcome, res.Message = models.OutcomeDisabled, "Revalidation system is disabled"
		return res, nil
	}

	h, err := p.guard.Acquire(ctx, lock.Revalidation, p.lockTTL)
	if errors.Is(err, lock.ErrHeld) {
		p.logger.Info("revalidation already in progress")
		res.Outcome, res.Message = models.OutcomeSkippedLocked, "Revalidation already in progress"
		return res, nil
	}
	if err != nil {
		return res, err
	}
	defer h.Release(ctx)

	if batchSize <= 0 {
		batchSize = s.BatchSize
	}
	items, err := p.queue.NextBatch(ctx, batchSize)
	if err != nil {
		return res, err
	}
	if len(items) == 0 {
		res.Outcome, res.Message = models.OutcomeCompleted, "No emails in queue to process"
		return res, nil
	}

	for _, it := range items {
		ir := p.processItem(ctx, it, s)
		res.Processed++
		res.Details = append(res.Details, ir)
		switch ir.Action {
		case string(models.RevalResubscribed), string(models.RevalWhitelisted):
			res.Resubscribed++
		case string(models.RevalKeptUnsubscribed):
			res.KeptUnsubscribed++
		case string(models.RevalManualReview):
			res.ManualReview++
		case itemActionError:
			res.Errors++
		}
		p.metrics.ObserveDecision(ir.Action)
	}

	res.Outcome = models.OutcomeCompleted
	res.Message = fmt.Sprintf("Processed %d emails", res.Processed)
	p.logger.Info("revalidation batch done",
		"processed", res.Processed,
		"resubscribed", res.Resubscribed,
		"kept", res.KeptUnsubscribed,
		"manual_review", res.ManualReview,
		"errors", res.Errors,
	)

	if st, err := p.queue.Stats(ctx); err == nil {
		p.metrics.ObserveQueue(st)
	}
	notify.Deliver(ctx, p.sink, summaryMessage(res, s), p.logger)
	return res, nil
}

// processItem never returns an error: a failure lands in the item's result
// and the queue item goes back for another attempt.
func (p *Processor) processItem(ctx context.Context, it models.QueueItem, s models.Settings) ItemResult {
	ir, status, err := p.decideItem(ctx, it, s)
	if err != nil {
		p.logger.Error("revalidation item failed", "action", "error", "queue_item", it.ID, "email", it.Email, "error", err)
		ir = ItemResult{
			QueueItemID:  it.ID,
			SubscriberID: it.SubscriberID,
			Email:        it.Email,
			Action:       itemActionError,
			Reason:       "processing_error",
			OldScore:     it.OriginalScore,
			Notes:        "Error: " + err.Error(),
		}
		if _, rerr := p.queue.Retry(ctx, it, ir.Notes); rerr != nil {
			p.logger.Error("requeue failed", "queue_item", it.ID, "error", rerr)
		}
		p.audit(ctx, &models.AuditLogEntry{
			SubscriberID: it.SubscriberID,
			Email:        it.Email,
			Action:       models.ActionError,
			Reason:       ir.Notes,
			OldScore:     it.OriginalScore,
			QueueItemID:  it.ID,
		})
		return ir
	}

	if err := p.queue.UpdateStatus(ctx, it.ID, status, ir.Notes); err != nil {
		p.logger.Error("queue status update failed", "queue_item", it.ID, "error", err)
	}
	return ir
}

// decideItem changes the subscriber before recording anything, so an item
// that fails half way and is retried leaves no result behind.
func (p *Processor) decideItem(ctx context.Context, it models.QueueItem, s models.Settings) (ItemResult, models.QueueStatus, error) {
	ir := ItemResult{
		QueueItemID:  it.ID,
		SubscriberID: it.SubscriberID,
		Email:        it.Email,
		OldScore:     it.OriginalScore,
	}
	now := p.clock.Now()

	if s.Whitelisted(domainOf(it.Email)) {
		ir.Action = string(models.RevalWhitelisted)
		ir.Reason = models.ReasonWhitelisted
		ir.NewScore = 100
		ir.Improvement = 100 - it.OriginalScore
		ir.Notes = "Domain is whitelisted"
		if err := p.resubscribe(ctx, it, ir.NewScore, models.ReasonWhitelisted); err != nil {
			return ir, "", err
		}
		err := p.store.AppendResult(ctx, &models.RevalidationResult{
			QueueItemID:  it.ID,
			SubscriberID: it.SubscriberID,
			Email:        it.Email,
			OldScore:     it.OriginalScore,
			NewScore:     ir.NewScore,
			Action:       models.RevalWhitelisted,
			Reason:       ir.Reason,
			Confidence:   models.ConfidenceHigh,
			Notes:        ir.Notes,
			ProcessedBy:  processedBySystem,
			CreatedAt:    now,
		})
		if err != nil {
			return ir, "", fmt.Errorf("record result: %w", err)
		}
		return ir, models.QueueCompleted, nil
	}

	oldErrors, err := p.originalErrors(ctx, it)
	if err != nil {
		return ir, "", err
	}

	fresh := p.validator.Validate(ctx, it.Email, false)
	improvement := fresh.Score - it.OriginalScore
	d := Decide(fresh, improvement, s)

	ir.Action = string(d.Action)
	ir.Reason = d.Reason
	ir.NewScore = fresh.Score
	ir.Improvement = improvement
	ir.Confidence = fresh.Confidence
	ir.Notes = d.Notes

	if d.Action == models.RevalResubscribed {
		if err := p.resubscribe(ctx, it, fresh.Score, d.Reason); err != nil {
			return ir, "", err
		}
	}

	err = p.store.AppendResult(ctx, &models.RevalidationResult{
		QueueItemID:        it.ID,
		SubscriberID:       it.SubscriberID,
		Email:              it.Email,
		OldScore:           it.OriginalScore,
		NewScore:           fresh.Score,
		OldErrors:          oldErrors,
		NewValidation:      fresh,
		Action:             d.Action,
		Reason:             d.Reason,
		Confidence:         fresh.Confidence,
		ImprovementFactors: ImprovementFactors(oldErrors, fresh),
		Notes:              d.Notes,
		ProcessedBy:        processedBySystem,
		CreatedAt:          now,
	})
	if err != nil {
		return ir, "", fmt.Errorf("record result: %w", err)
	}

	entry := models.EntryFromResult(it.SubscriberID, fresh, models.ActionRevalidated)
	entry.Reason = d.Reason
	entry.OldScore = it.OriginalScore
	entry.NewScore = fresh.Score
	entry.QueueItemID = it.ID
	if err := p.store.AppendAudit(ctx, entry); err != nil {
		return ir, "", fmt.Errorf("audit revalidation: %w", err)
	}

	if d.Action == models.RevalManualReview {
		return ir, models.QueueManualReview, nil
	}
	return ir, models.QueueCompleted, nil
}

// originalErrors loads the errors recorded when the address was rejected.
func (p *Processor) originalErrors(ctx context.Context, it models.QueueItem) ([]models.ErrorKind, error) {
	latest, err := p.store.LatestAudit(ctx, []int64{it.SubscriberID}, models.ActionAutoUnsubscribed)
	if err != nil {
		return nil, fmt.Errorf("load original validation: %w", err)
	}
	return latest[it.SubscriberID].Errors, nil
}

// resubscribe flips the subscriber back to confirmed and records why.
func (p *Processor) resubscribe(ctx context.Context, it models.QueueItem, newScore int, reason string) error {
	sub, err := p.store.GetSubscriber(ctx, it.SubscriberID)
	if err != nil {
		return fmt.Errorf("load subscriber %d: %w", it.SubscriberID, err)
	}
	now := p.clock.Now()
	if err := p.store.SetSubscriberStatus(ctx, sub.ID, models.SubscriberConfirmed, now); err != nil {
		return fmt.Errorf("resubscribe %d: %w", sub.ID, err)
	}
	return p.store.AppendAudit(ctx, &models.AuditLogEntry{
		SubscriberID: sub.ID,
		Email:        sub.Email,
		IsValid:      true,
		Score:        newScore,
		Action:       models.ActionResubscribed,
		Reason:       "Resubscribed due to: " + reason,
		OldStatus:    sub.Status,
		NewStatus:    models.SubscriberConfirmed,
		OldScore:     it.OriginalScore,
		NewScore:     newScore,
		QueueItemID:  it.ID,
		CreatedAt:    now,
	})
}

// audit writes a best-effort entry; it is only used on paths that are
// already reporting a failure.
func (p *Processor) audit(ctx context.Context, e *models.AuditLogEntry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = p.clock.Now()
	}
	if err := p.store.AppendAudit(ctx, e); err != nil {
		p.logger.Error("audit write failed", "action", e.Action, "email", e.Email, "error", err)
	}
}

func summaryMessage(r *BatchResult, s models.Settings) notify.Message {
	return notify.Message{
		Subject: fmt.Sprintf("Email Revalidation Results - %d Processed", r.Processed),
		Body: fmt.Sprintf("Email revalidation processing completed:\n\n"+
			"Processed: %d emails\n"+
			"Resubscribed: %d emails\n"+
			"Kept unsubscribed: %d emails\n"+
			"Manual review required: %d emails\n"+
			"Errors: %d emails\n",
			r.Processed, r.Resubscribed, r.KeptUnsubscribed, r.ManualReview, r.Errors),
		To: s.NotifyRecipients,
	}
}

func domainOf(email string) string {
	at := strings.LastIndexByte(email, '@')
	if at < 0 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}
