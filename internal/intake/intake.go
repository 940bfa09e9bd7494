// Package intake gates new subscriptions and reacts to subscriber lifecycle
// events reported by the mailing-list system.
package intake

import (
	"context"
	"fmt"
	"log/slog"

	"mailcleaner/internal/clock"
	"mailcleaner/internal/metrics"
	"mailcleaner/internal/models"
	"mailcleaner/internal/notify"
	"mailcleaner/internal/store"
)

// RejectMessage is shown to a visitor whose address fails the gate.
const RejectMessage = "The email address provided appears to be invalid. Please check and try again."

type Validator interface {
	Validate(ctx context.Context, email string, deep bool) *models.ValidationResult
}

type Backend interface {
	store.SubscriberStore
	store.AuditStore
}

type Intake struct {
	store     Backend
	validator Validator
	listener  notify.Listener
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    *slog.Logger
}

type Option func(*Intake)

func WithListener(l notify.Listener) Option { return func(in *Intake) { in.listener = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(in *Intake) { in.metrics = m } }

func WithClock(c clock.Clock) Option { return func(in *Intake) { in.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(in *Intake) { in.logger = l } }

func New(st Backend, v Validator, opts ...Option) *Intake {
	in := &Intake{
		store:     st,
		validator: v,
		clock:     clock.System{},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(in)
	}
	in.logger = in.logger.With("component", "intake")
	return in
}

// Verdict answers a subscription check.
type Verdict struct {
	Allowed bool                     `json:"allowed"`
	Message string                   `json:"message,omitempty"`
	Result  *models.ValidationResult `json:"result"`
}

// CheckSubscription runs the quick pipeline against the subscription
// minimum. The attempt is logged under subscriber 0 since no row exists yet.
func (in *Intake) CheckSubscription(ctx context.Context, email string, s models.Settings) (*Verdict, error) {
	res := in.validator.Validate(ctx, email, false)
	if err := in.store.AppendAudit(ctx, models.EntryFromResult(0, res, models.ActionSubscriptionCheck)); err != nil {
		return nil, fmt.Errorf("audit subscription check: %w", err)
	}

	v := &Verdict{Allowed: res.IsValid && res.Score >= s.SubscriptionMinimumScore, Result: res}
	if !v.Allowed {
		v.Message = RejectMessage
		in.logger.Info("subscription rejected", "email", res.Email, "score", res.Score)
	}
	return v, nil
}

// Confirmed deep-validates a freshly confirmed subscriber when deep
// validation is enabled and unsubscribes them if the address falls short.
// It returns nil when nothing was checked.
func (in *Intake) Confirmed(ctx context.Context, subscriberID int64, s models.Settings) (*models.ValidationResult, error) {
	if !s.EnableDeepValidation {
		return nil, nil
	}
	sub, err := in.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return nil, fmt.Errorf("load subscriber %d: %w", subscriberID, err)
	}

	res := in.validator.Validate(ctx, sub.Email, true)
	if res.IsValid && res.Score >= s.MinimumScore {
		if err := in.store.AppendAudit(ctx, models.EntryFromResult(sub.ID, res, models.ActionConfirmCheck)); err != nil {
			return res, fmt.Errorf("audit confirm check: %w", err)
		}
		return res, nil
	}

	if err := in.unsubscribe(ctx, sub, models.EntryFromResult(sub.ID, res, models.ActionAutoUnsubscribed), "failed_deep_validation"); err != nil {
		return res, err
	}
	if in.listener != nil {
		in.listener.OnAutoUnsubscribed(ctx, *sub, res)
	}
	return res, nil
}

// Bounced records a bounce. A hard bounce also unsubscribes.
func (in *Intake) Bounced(ctx context.Context, subscriberID int64, hard bool) error {
	reason := "soft_bounce"
	if hard {
		reason = "hard_bounce"
	}
	return in.event(ctx, subscriberID, models.ActionBounced, reason, hard)
}

// Complained records a spam complaint and unsubscribes.
func (in *Intake) Complained(ctx context.Context, subscriberID int64) error {
	return in.event(ctx, subscriberID, models.ActionComplained, "spam_complaint", true)
}

func (in *Intake) event(ctx context.Context, subscriberID int64, action models.ActionTaken, reason string, unsubscribe bool) error {
	sub, err := in.store.GetSubscriber(ctx, subscriberID)
	if err != nil {
		return fmt.Errorf("load subscriber %d: %w", subscriberID, err)
	}
	e := &models.AuditLogEntry{
		SubscriberID: sub.ID,
		Email:        sub.Email,
		Action:       action,
		Reason:       reason,
		CreatedAt:    in.clock.Now(),
	}
	if !unsubscribe || sub.Status == models.SubscriberUnsubscribed {
		if err := in.store.AppendAudit(ctx, e); err != nil {
			return fmt.Errorf("audit %s: %w", action, err)
		}
		return nil
	}
	return in.unsubscribe(ctx, sub, e, reason)
}

func (in *Intake) unsubscribe(ctx context.Context, sub *models.Subscriber, e *models.AuditLogEntry, reason string) error {
	now := in.clock.Now()
	if err := in.store.SetSubscriberStatus(ctx, sub.ID, models.SubscriberUnsubscribed, now); err != nil {
		return fmt.Errorf("unsubscribe %d: %w", sub.ID, err)
	}
	e.OldStatus, e.NewStatus = sub.Status, models.SubscriberUnsubscribed
	e.Reason = reason
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if err := in.store.AppendAudit(ctx, e); err != nil {
		return fmt.Errorf("audit %s: %w", e.Action, err)
	}
	in.metrics.ObserveDecision(string(e.Action))
	in.logger.Info("subscriber unsubscribed", "subscriber", sub.ID, "email", sub.Email, "reason", reason)
	return nil
}
