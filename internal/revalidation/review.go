package revalidation

import (
	"context"
	"errors"
	"fmt"

	"mailcleaner/internal/models"
)

var (
	ErrNotResubscribed = errors.New("revalidation: result did not resubscribe")
	ErrNotInReview     = errors.New("revalidation: queue item is not awaiting review")
)

// Rollback undoes a resubscribe decision: the subscriber goes back to
// unsubscribed and both an audit entry and a rolled_back result are written.
func (p *Processor) Rollback(ctx context.Context, resultID int64, reason, by string) (*models.RevalidationResult, error) {
	orig, err := p.store.GetResult(ctx, resultID)
	if err != nil {
		return nil, fmt.Errorf("load result %d: %w", resultID, err)
	}
	if orig.Action != models.RevalResubscribed && orig.Action != models.RevalWhitelisted {
		return nil, fmt.Errorf("%w: result %d is %s", ErrNotResubscribed, resultID, orig.Action)
	}
	sub, err := p.store.GetSubscriber(ctx, orig.SubscriberID)
	if err != nil {
		return nil, fmt.Errorf("load subscriber %d: %w", orig.SubscriberID, err)
	}
	if sub.Status == models.SubscriberUnsubscribed {
		return nil, fmt.Errorf("%w: subscriber %d is already unsubscribed", ErrNotResubscribed, sub.ID)
	}

	now := p.clock.Now()
	if err := p.store.SetSubscriberStatus(ctx, sub.ID, models.SubscriberUnsubscribed, now); err != nil {
		return nil, fmt.Errorf("unsubscribe %d: %w", sub.ID, err)
	}
	err = p.store.AppendAudit(ctx, &models.AuditLogEntry{
		SubscriberID: sub.ID,
		Email:        sub.Email,
		Score:        orig.NewScore,
		Action:       models.ActionRollback,
		Reason:       reason,
		OldStatus:    sub.Status,
		NewStatus:    models.SubscriberUnsubscribed,
		OldScore:     orig.OldScore,
		NewScore:     orig.NewScore,
		QueueItemID:  orig.QueueItemID,
		CreatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("audit rollback: %w", err)
	}

	rb := &models.RevalidationResult{
		QueueItemID:  orig.QueueItemID,
		SubscriberID: orig.SubscriberID,
		Email:        orig.Email,
		OldScore:     orig.OldScore,
		NewScore:     orig.NewScore,
		Action:       models.RevalRolledBack,
		Reason:       reason,
		Confidence:   orig.Confidence,
		Notes:        fmt.Sprintf("Rolled back result %d", orig.ID),
		ProcessedBy:  by,
		CreatedAt:    now,
	}
	if err := p.store.AppendResult(ctx, rb); err != nil {
		return nil, fmt.Errorf("record rollback: %w", err)
	}
	p.logger.Info("resubscribe rolled back", "result", resultID, "subscriber", sub.ID, "by", by)
	return rb, nil
}

// ResolveReview settles an item parked in manual review. Approval
// resubscribes; rejection keeps the subscriber out. Either way the item is
// completed.
func (p *Processor) ResolveReview(ctx context.Context, queueItemID int64, approve bool, note, by string) (*models.RevalidationResult, error) {
	it, err := p.queue.Get(ctx, queueItemID)
	if err != nil {
		return nil, fmt.Errorf("load queue item %d: %w", queueItemID, err)
	}
	if it.Status != models.QueueManualReview {
		return nil, fmt.Errorf("%w: item %d is %s", ErrNotInReview, it.ID, it.Status)
	}

	fresh := p.validator.Validate(ctx, it.Email, false)
	now := p.clock.Now()
	res := &models.RevalidationResult{
		QueueItemID:   it.ID,
		SubscriberID:  it.SubscriberID,
		Email:         it.Email,
		OldScore:      it.OriginalScore,
		NewScore:      fresh.Score,
		NewValidation: fresh,
		Confidence:    fresh.Confidence,
		Notes:         note,
		ProcessedBy:   by,
		CreatedAt:     now,
	}

	if approve {
		res.Action, res.Reason = models.RevalResubscribed, models.ReasonManualApproval
		if err := p.resubscribe(ctx, *it, fresh.Score, models.ReasonManualApproval); err != nil {
			return nil, err
		}
	} else {
		res.Action, res.Reason = models.RevalKeptUnsubscribed, models.ReasonManualRejection
		p.audit(ctx, &models.AuditLogEntry{
			SubscriberID: it.SubscriberID,
			Email:        it.Email,
			Score:        fresh.Score,
			Action:       models.ActionManualReview,
			Reason:       models.ReasonManualRejection,
			OldScore:     it.OriginalScore,
			NewScore:     fresh.Score,
			QueueItemID:  it.ID,
			CreatedAt:    now,
		})
	}

	if err := p.store.AppendResult(ctx, res); err != nil {
		return nil, fmt.Errorf("record review: %w", err)
	}
	if err := p.queue.UpdateStatus(ctx, it.ID, models.QueueCompleted, note); err != nil {
		return nil, err
	}
	p.metrics.ObserveDecision(string(res.Action))
	p.logger.Info("manual review resolved", "queue_item", it.ID, "approved", approve, "by", by)
	return res, nil
}
