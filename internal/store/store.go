// Package store persists audit history, the revalidation queue, locks and
// the subscriber list. PostgreSQL backs multi-process deployments; bbolt
// backs single-node installs and tests.
package store

import (
	"context"
	"errors"
	"time"

	"mailcleaner/internal/models"
)

var ErrNotFound = errors.New("store: not found")

// SubscriberStore is the external mailing list. Listing is keyset-paged on
// id so a scan that flips statuses while it walks never skips rows.
type SubscriberStore interface {
	AddSubscriber(ctx context.Context, s *models.Subscriber) error
	GetSubscriber(ctx context.Context, id int64) (*models.Subscriber, error)
	FindSubscriberByEmail(ctx context.Context, email string) (*models.Subscriber, error)
	ListSubscribers(ctx context.Context, status string, afterID int64, limit int) ([]models.Subscriber, error)
	SetSubscriberStatus(ctx context.Context, id int64, status string, now time.Time) error
	CountSubscribers(ctx context.Context, status string) (int, error)
}

type AuditStore interface {
	AppendAudit(ctx context.Context, e *models.AuditLogEntry) error
	ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error)
	AuditStats(ctx context.Context, now time.Time) (models.AuditStats, error)
	// LatestAudit returns the newest entry per subscriber id, restricted to
	// action unless it is empty. Ids without a match are absent from the map.
	LatestAudit(ctx context.Context, subscriberIDs []int64, action models.ActionTaken) (map[int64]models.AuditLogEntry, error)
	PruneAudit(ctx context.Context, before time.Time) (int64, error)
	ClearAudit(ctx context.Context) (int64, error)
}

type QueueStore interface {
	// InsertQueueItem reports false when the subscriber already has an
	// active (pending, processing or completed) item.
	InsertQueueItem(ctx context.Context, it *models.QueueItem) (bool, error)
	// ClaimQueueItems flips up to limit eligible pending items to processing
	// and bumps their attempts in one atomic step.
	ClaimQueueItems(ctx context.Context, limit int, now time.Time) ([]models.QueueItem, error)
	UpdateQueueItem(ctx context.Context, id int64, status models.QueueStatus, notes string, now time.Time) error
	GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error)
	ListQueueItems(ctx context.Context, status models.QueueStatus, limit int) ([]models.QueueItem, error)
	QueueStats(ctx context.Context) (models.QueueStats, error)
	ResetStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error)
	ClearQueue(ctx context.Context) (int64, error)
}

type ResultStore interface {
	AppendResult(ctx context.Context, r *models.RevalidationResult) error
	GetResult(ctx context.Context, id int64) (*models.RevalidationResult, error)
	ListResults(ctx context.Context, limit, offset int) ([]models.RevalidationResult, error)
}

type ScanStore interface {
	AppendScanSummary(ctx context.Context, s *models.ScanSummary) error
	ListScanSummaries(ctx context.Context, limit int) ([]models.ScanSummary, error)
}

// LockStore holds named TTL locks. TryLock is a single conditional write:
// it succeeds when the name is free or its holder's TTL has run out.
type LockStore interface {
	TryLock(ctx context.Context, l models.Lock) (bool, error)
	Unlock(ctx context.Context, name, owner string) error
	GetLock(ctx context.Context, name string) (*models.Lock, error)
	ForceUnlock(ctx context.Context, name string) error
}

// EventStore keeps the scheduler's rolling event log.
type EventStore interface {
	AppendEvent(ctx context.Context, e *models.SchedulerEvent, keep int) error
	ListEvents(ctx context.Context, limit int) ([]models.SchedulerEvent, error)
}

// Store is everything the core persists.
type Store interface {
	SubscriberStore
	AuditStore
	QueueStore
	ResultStore
	ScanStore
	LockStore
	EventStore
	Close() error
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
