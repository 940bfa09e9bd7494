// Package queue manages the revalidation queue: which previously rejected
// subscribers get another look, in what order, and their status as batches
// work through them.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"mailcleaner/internal/clock"
	"mailcleaner/internal/models"
	"mailcleaner/internal/store"
)

var ErrBadStatus = errors.New("queue: unknown status")

// Backend is the slice of the store the queue works against.
type Backend interface {
	store.QueueStore
	store.AuditStore
	store.SubscriberStore
}

// Queue is safe for concurrent use; all coordination happens in the store.
type Queue struct {
	store  Backend
	clock  clock.Clock
	logger *slog.Logger

	pageSize int
}

func New(st Backend, clk clock.Clock, logger *slog.Logger) *Queue {
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{store: st, clock: clk, logger: logger.With("component", "queue"), pageSize: 500}
}

// PopulateResult reports what a populate run did.
type PopulateResult struct {
	Queued     int    `json:"queued"`
	Candidates int    `json:"total_candidates"`
	Duplicates int    `json:"duplicates"`
	Cleared    int64  `json:"cleared,omitempty"`
	Message    string `json:"message"`
}

type candidate struct {
	sub   models.Subscriber
	entry models.AuditLogEntry
}

// Populate queues unsubscribed addresses whose latest automatic rejection
// matches c. Subscribers that already hold an active item are left alone.
func (q *Queue) Populate(ctx context.Context, c models.PopulateCriteria, s models.Settings) (PopulateResult, error) {
	c = normalize(c)
	now := q.clock.Now()
	var res PopulateResult

	if c.ForceRepopulate {
		n, err := q.store.ClearQueue(ctx)
		if err != nil {
			return res, fmt.Errorf("clear queue: %w", err)
		}
		res.Cleared = n
		q.logger.Warn("queue cleared for repopulation", "items", n)
	}

	cands, err := q.candidates(ctx, c, now)
	if err != nil {
		return res, err
	}
	res.Candidates = len(cands)
	if len(cands) == 0 {
		res.Message = "No eligible emails found for revalidation"
		return res, nil
	}

	for _, cd := range cands {
		if res.Queued >= c.Limit {
			break
		}
		it := &models.QueueItem{
			SubscriberID:         cd.sub.ID,
			Email:                cd.sub.Email,
			OriginalValidationID: cd.entry.ID,
			OriginalScore:        cd.entry.Score,
			OriginalRejectedAt:   cd.entry.CreatedAt,
			Status:               models.QueuePending,
			Priority:             Priority(cd.entry.Score, cd.entry.CreatedAt, now, domainOf(cd.sub.Email), s),
			CreatedAt:            now,
		}
		ok, err := q.store.InsertQueueItem(ctx, it)
		if err != nil {
			return res, fmt.Errorf("insert queue item for subscriber %d: %w", cd.sub.ID, err)
		}
		if !ok {
			res.Duplicates++
			continue
		}
		res.Queued++

		err = q.store.AppendAudit(ctx, &models.AuditLogEntry{
			SubscriberID: it.SubscriberID,
			Email:        it.Email,
			Score:        it.OriginalScore,
			OldScore:     it.OriginalScore,
			Action:       models.ActionQueued,
			Reason:       "Email queued for revalidation",
			QueueItemID:  it.ID,
			CreatedAt:    now,
		})
		if err != nil {
			return res, fmt.Errorf("audit queued item %d: %w", it.ID, err)
		}
	}

	res.Message = fmt.Sprintf("Successfully queued %d emails for revalidation", res.Queued)
	q.logger.Info("queue populated", "queued", res.Queued, "candidates", res.Candidates, "duplicates", res.Duplicates)
	return res, nil
}

// candidates walks unsubscribed subscribers and keeps those whose latest
// auto_unsubscribed entry falls inside c. Highest original score first,
// newest rejection breaking ties.
func (q *Queue) candidates(ctx context.Context, c models.PopulateCriteria, now time.Time) ([]candidate, error) {
	cutoff := now.Add(-time.Duration(c.MaxAgeDays) * day)
	var (
		out   []candidate
		after int64
	)
	for {
		subs, err := q.store.ListSubscribers(ctx, models.SubscriberUnsubscribed, after, q.pageSize)
		if err != nil {
			return nil, fmt.Errorf("list unsubscribed: %w", err)
		}
		if len(subs) == 0 {
			break
		}
		ids := make([]int64, len(subs))
		for i, sub := range subs {
			ids[i] = sub.ID
		}
		latest, err := q.store.LatestAudit(ctx, ids, models.ActionAutoUnsubscribed)
		if err != nil {
			return nil, fmt.Errorf("latest rejections: %w", err)
		}
		for _, sub := range subs {
			e, ok := latest[sub.ID]
			if !ok {
				continue
			}
			if e.Score < c.MinOriginalScore || e.Score > c.MaxOriginalScore {
				continue
			}
			if e.CreatedAt.Before(cutoff) {
				continue
			}
			out = append(out, candidate{sub: sub, entry: e})
		}
		after = subs[len(subs)-1].ID
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].entry.Score != out[j].entry.Score {
			return out[i].entry.Score > out[j].entry.Score
		}
		return out[i].entry.CreatedAt.After(out[j].entry.CreatedAt)
	})
	return out, nil
}

func normalize(c models.PopulateCriteria) models.PopulateCriteria {
	def := models.DefaultPopulateCriteria()
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = def.MaxAgeDays
	}
	if c.MaxOriginalScore <= 0 {
		c.MaxOriginalScore = def.MaxOriginalScore
	}
	if c.MinOriginalScore < 0 {
		c.MinOriginalScore = 0
	}
	if c.Limit <= 0 {
		c.Limit = def.Limit
	}
	return c
}

// NextBatch claims up to n pending items. Claiming is one atomic step in the
// store, so concurrent callers never receive the same item.
func (q *Queue) NextBatch(ctx context.Context, n int) ([]models.QueueItem, error) {
	items, err := q.store.ClaimQueueItems(ctx, n, q.clock.Now())
	if err != nil {
		return nil, fmt.Errorf("claim batch: %w", err)
	}
	return items, nil
}

// UpdateStatus moves an item to status. Repeating the same status is harmless.
func (q *Queue) UpdateStatus(ctx context.Context, id int64, status models.QueueStatus, notes string) error {
	switch status {
	case models.QueuePending, models.QueueCompleted, models.QueueFailed, models.QueueManualReview:
	default:
		return fmt.Errorf("%w: %q", ErrBadStatus, status)
	}
	if err := q.store.UpdateQueueItem(ctx, id, status, notes, q.clock.Now()); err != nil {
		return fmt.Errorf("update queue item %d: %w", id, err)
	}
	return nil
}

// Retry hands a failed claim back to the queue while it has attempts left.
// It returns the status the item ended in.
func (q *Queue) Retry(ctx context.Context, it models.QueueItem, notes string) (models.QueueStatus, error) {
	status := models.QueuePending
	if it.Attempts >= models.MaxQueueAttempts {
		status = models.QueueFailed
	}
	return status, q.UpdateStatus(ctx, it.ID, status, notes)
}

// RecoverStale returns items claimed before olderThan ago to pending, or
// fails them when their attempts are spent.
func (q *Queue) RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := q.store.ResetStaleClaims(ctx, q.clock.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("reset stale claims: %w", err)
	}
	if n > 0 {
		q.logger.Warn("recovered stale claims", "items", n)
	}
	return n, nil
}

func (q *Queue) Stats(ctx context.Context) (models.QueueStats, error) {
	return q.store.QueueStats(ctx)
}

func (q *Queue) Get(ctx context.Context, id int64) (*models.QueueItem, error) {
	return q.store.GetQueueItem(ctx, id)
}

func (q *Queue) List(ctx context.Context, status models.QueueStatus, limit int) ([]models.QueueItem, error) {
	return q.store.ListQueueItems(ctx, status, limit)
}
