package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"mailcleaner/internal/models"
)

// ── Subscribers ──────────────────────────────────────────────────────────────

const subscriberCols = `id, email, status, created_at, updated_at`

func scanSubscriber(row pgx.CollectableRow) (models.Subscriber, error) {
	var s models.Subscriber
	err := row.Scan(&s.ID, &s.Email, &s.Status, &s.CreatedAt, &s.UpdatedAt)
	return s, err
}

func (p *Postgres) AddSubscriber(ctx context.Context, s *models.Subscriber) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	s.UpdatedAt = s.CreatedAt
	err := p.pool.QueryRow(ctx, `
		INSERT INTO subscribers (email, status, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		RETURNING id
	`, strings.ToLower(s.Email), s.Status, s.CreatedAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert subscriber: %w", err)
	}
	return nil
}

func (p *Postgres) getSubscriber(ctx context.Context, where string, arg any) (*models.Subscriber, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+subscriberCols+` FROM subscribers WHERE `+where, arg)
	if err != nil {
		return nil, fmt.Errorf("query subscriber: %w", err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, scanSubscriber)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subscriber: %w", err)
	}
	return &s, nil
}

func (p *Postgres) GetSubscriber(ctx context.Context, id int64) (*models.Subscriber, error) {
	return p.getSubscriber(ctx, `id = $1`, id)
}

func (p *Postgres) FindSubscriberByEmail(ctx context.Context, email string) (*models.Subscriber, error) {
	return p.getSubscriber(ctx, `email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (p *Postgres) ListSubscribers(ctx context.Context, status string, afterID int64, limit int) ([]models.Subscriber, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+subscriberCols+` FROM subscribers
		WHERE ($1 = '' OR status = $1) AND id > $2
		ORDER BY id
		LIMIT $3
	`, status, afterID, clampLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("list subscribers: %w", err)
	}
	return pgx.CollectRows(rows, scanSubscriber)
}

func (p *Postgres) SetSubscriberStatus(ctx context.Context, id int64, status string, now time.Time) error {
	tag, err := p.pool.Exec(ctx, `UPDATE subscribers SET status = $2, updated_at = $3 WHERE id = $1`, id, status, now)
	if err != nil {
		return fmt.Errorf("update subscriber %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) CountSubscribers(ctx context.Context, status string) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM subscribers WHERE ($1 = '' OR status = $1)`, status).Scan(&n)
	return n, err
}

// ── Audit log ────────────────────────────────────────────────────────────────

const auditCols = `id, subscriber_id, email, is_valid, score, errors, warnings, action_taken,
	reason, old_status, new_status, old_score, new_score, queue_item_id, created_at`

func scanAudit(row pgx.CollectableRow) (models.AuditLogEntry, error) {
	var (
		e               models.AuditLogEntry
		action          string
		errRaw, warnRaw []byte
	)
	err := row.Scan(&e.ID, &e.SubscriberID, &e.Email, &e.IsValid, &e.Score, &errRaw, &warnRaw, &action,
		&e.Reason, &e.OldStatus, &e.NewStatus, &e.OldScore, &e.NewScore, &e.QueueItemID, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.Action = models.ActionTaken(action)
	if err := json.Unmarshal(errRaw, &e.Errors); err != nil {
		return e, fmt.Errorf("decode errors: %w", err)
	}
	if err := json.Unmarshal(warnRaw, &e.Warnings); err != nil {
		return e, fmt.Errorf("decode warnings: %w", err)
	}
	return e, nil
}

func (p *Postgres) AppendAudit(ctx context.Context, e *models.AuditLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	errJSON, _ := json.Marshal(nonNil(e.Errors))
	warnJSON, _ := json.Marshal(nonNil(e.Warnings))

	err := p.pool.QueryRow(ctx, `
		INSERT INTO audit_log (subscriber_id, email, is_valid, score, errors, warnings, action_taken,
			reason, old_status, new_status, old_score, new_score, queue_item_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`, e.SubscriberID, e.Email, e.IsValid, e.Score, string(errJSON), string(warnJSON), string(e.Action),
		e.Reason, e.OldStatus, e.NewStatus, e.OldScore, e.NewScore, e.QueueItemID, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (p *Postgres) ListAudit(ctx context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.EmailContains != "" {
		add("email ILIKE '%%' || $%d || '%%'", f.EmailContains)
	}
	if f.IsValid != nil {
		add("is_valid = $%d", *f.IsValid)
	}
	if f.Action != "" {
		add("action_taken = $%d", string(f.Action))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at < $%d", f.To)
	}

	q := `SELECT ` + auditCols + ` FROM audit_log`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, clampLimit(f.Limit, 50), f.Offset)
	q += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	return pgx.CollectRows(rows, scanAudit)
}

func (p *Postgres) AuditStats(ctx context.Context, now time.Time) (models.AuditStats, error) {
	var st models.AuditStats
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE is_valid),
		       COUNT(*) FILTER (WHERE NOT is_valid),
		       COUNT(*) FILTER (WHERE created_at >= $1),
		       COALESCE(AVG(score), 0)::float8
		FROM audit_log
	`, now.AddDate(0, 0, -7)).Scan(&st.Total, &st.Valid, &st.Invalid, &st.LastSevenDay, &st.AverageScore)
	if err != nil {
		return st, fmt.Errorf("audit stats: %w", err)
	}
	return st, nil
}

func (p *Postgres) LatestAudit(ctx context.Context, subscriberIDs []int64, action models.ActionTaken) (map[int64]models.AuditLogEntry, error) {
	out := make(map[int64]models.AuditLogEntry, len(subscriberIDs))
	if len(subscriberIDs) == 0 {
		return out, nil
	}
	rows, err := p.pool.Query(ctx, `
		SELECT DISTINCT ON (subscriber_id) `+auditCols+`
		FROM audit_log
		WHERE subscriber_id = ANY($1) AND ($2 = '' OR action_taken = $2)
		ORDER BY subscriber_id, created_at DESC, id DESC
	`, subscriberIDs, string(action))
	if err != nil {
		return nil, fmt.Errorf("latest audit: %w", err)
	}
	entries, err := pgx.CollectRows(rows, scanAudit)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		out[e.SubscriberID] = e
	}
	return out, nil
}

func (p *Postgres) PruneAudit(ctx context.Context, before time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM audit_log WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("prune audit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) ClearAudit(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM audit_log`)
	if err != nil {
		return 0, fmt.Errorf("clear audit: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ── Revalidation queue ───────────────────────────────────────────────────────

const queueCols = `id, subscriber_id, email, original_validation_id, original_score, original_rejected_at,
	status, priority, attempts, created_at, claimed_at, processed_at, notes`

func scanQueueItem(row pgx.CollectableRow) (models.QueueItem, error) {
	var (
		it     models.QueueItem
		status string
	)
	err := row.Scan(&it.ID, &it.SubscriberID, &it.Email, &it.OriginalValidationID, &it.OriginalScore,
		&it.OriginalRejectedAt, &status, &it.Priority, &it.Attempts, &it.CreatedAt, &it.ClaimedAt,
		&it.ProcessedAt, &it.Notes)
	it.Status = models.QueueStatus(status)
	return it, err
}

func (p *Postgres) InsertQueueItem(ctx context.Context, it *models.QueueItem) (bool, error) {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	if it.Status == "" {
		it.Status = models.QueuePending
	}
	err := p.pool.QueryRow(ctx, `
		INSERT INTO revalidation_queue (subscriber_id, email, original_validation_id, original_score,
			original_rejected_at, status, priority, attempts, created_at, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (subscriber_id) WHERE status IN ('pending', 'processing', 'completed', 'manual_review') DO NOTHING
		RETURNING id
	`, it.SubscriberID, it.Email, it.OriginalValidationID, it.OriginalScore, it.OriginalRejectedAt,
		string(it.Status), it.Priority, it.Attempts, it.CreatedAt, it.Notes).Scan(&it.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert queue item: %w", err)
	}
	return true, nil
}

// ClaimQueueItems uses SKIP LOCKED so concurrent processors split the
// pending set instead of blocking on, or double-claiming, the same rows.
func (p *Postgres) ClaimQueueItems(ctx context.Context, limit int, now time.Time) ([]models.QueueItem, error) {
	rows, err := p.pool.Query(ctx, `
		UPDATE revalidation_queue
		SET status = 'processing', attempts = attempts + 1, claimed_at = $2
		WHERE id IN (
			SELECT id FROM revalidation_queue
			WHERE status = 'pending' AND attempts < $3
			ORDER BY priority DESC, created_at ASC, id ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+queueCols, clampLimit(limit, 25), now, models.MaxQueueAttempts)
	if err != nil {
		return nil, fmt.Errorf("claim queue items: %w", err)
	}
	items, err := pgx.CollectRows(rows, scanQueueItem)
	if err != nil {
		return nil, err
	}
	sortQueue(items)
	return items, nil
}

func (p *Postgres) UpdateQueueItem(ctx context.Context, id int64, status models.QueueStatus, notes string, now time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE revalidation_queue
		SET status = $2,
		    notes = CASE WHEN $3 = '' THEN notes ELSE $3 END,
		    processed_at = CASE WHEN $2 = 'pending' THEN processed_at ELSE $4 END,
		    claimed_at = CASE WHEN $2 = 'pending' THEN NULL ELSE claimed_at END
		WHERE id = $1
	`, id, string(status), notes, now)
	if err != nil {
		return fmt.Errorf("update queue item %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) GetQueueItem(ctx context.Context, id int64) (*models.QueueItem, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+queueCols+` FROM revalidation_queue WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	it, err := pgx.CollectExactlyOneRow(rows, scanQueueItem)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (p *Postgres) ListQueueItems(ctx context.Context, status models.QueueStatus, limit int) ([]models.QueueItem, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+queueCols+` FROM revalidation_queue
		WHERE ($1 = '' OR status = $1)
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $2
	`, string(status), clampLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return pgx.CollectRows(rows, scanQueueItem)
}

func (p *Postgres) QueueStats(ctx context.Context) (models.QueueStats, error) {
	var st models.QueueStats
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'processing'),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE status = 'manual_review'),
		       COALESCE(AVG(priority), 0)::float8
		FROM revalidation_queue
	`).Scan(&st.Total, &st.Pending, &st.Processing, &st.Completed, &st.Failed, &st.ManualReview, &st.AvgPriority)
	if err != nil {
		return st, fmt.Errorf("queue stats: %w", err)
	}
	return st, nil
}

func (p *Postgres) ResetStaleClaims(ctx context.Context, claimedBefore time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE revalidation_queue
		SET status = CASE WHEN attempts >= $2 THEN 'failed' ELSE 'pending' END,
		    claimed_at = NULL
		WHERE status = 'processing' AND claimed_at < $1
	`, claimedBefore, models.MaxQueueAttempts)
	if err != nil {
		return 0, fmt.Errorf("reset stale claims: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) ClearQueue(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM revalidation_queue`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ── Revalidation results ─────────────────────────────────────────────────────

// The full result is kept as JSONB so the old/new details can be re-read later.
func (p *Postgres) AppendResult(ctx context.Context, r *models.RevalidationResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	err = p.pool.QueryRow(ctx, `
		INSERT INTO revalidation_results (queue_item_id, subscriber_id, email, old_score, new_score,
			action, reason, confidence, data, processed_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`, r.QueueItemID, r.SubscriberID, r.Email, r.OldScore, r.NewScore, string(r.Action), r.Reason,
		string(r.Confidence), string(data), r.ProcessedBy, r.CreatedAt).Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

func scanResult(row pgx.CollectableRow) (models.RevalidationResult, error) {
	var (
		r    models.RevalidationResult
		id   int64
		data []byte
	)
	if err := row.Scan(&id, &data); err != nil {
		return r, err
	}
	if err := json.Unmarshal(data, &r); err != nil {
		return r, fmt.Errorf("decode result %d: %w", id, err)
	}
	r.ID = id
	return r, nil
}

func (p *Postgres) GetResult(ctx context.Context, id int64) (*models.RevalidationResult, error) {
	rows, err := p.pool.Query(ctx, `SELECT id, data FROM revalidation_results WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	r, err := pgx.CollectExactlyOneRow(rows, scanResult)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (p *Postgres) ListResults(ctx context.Context, limit, offset int) ([]models.RevalidationResult, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, data FROM revalidation_results ORDER BY id DESC LIMIT $1 OFFSET $2
	`, clampLimit(limit, 50), offset)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return pgx.CollectRows(rows, scanResult)
}

// ── Scan summaries ───────────────────────────────────────────────────────────

func (p *Postgres) AppendScanSummary(ctx context.Context, s *models.ScanSummary) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO scan_summaries (run_id, scan_type, processed, invalid, unsubscribed, errors, pruned,
			started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, s.RunID, string(s.Type), s.Processed, s.Invalid, s.Unsubscribed, s.Errors, s.Pruned,
		s.StartedAt, s.FinishedAt).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert scan summary: %w", err)
	}
	return nil
}

func (p *Postgres) ListScanSummaries(ctx context.Context, limit int) ([]models.ScanSummary, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, run_id, scan_type, processed, invalid, unsubscribed, errors, pruned, started_at, finished_at
		FROM scan_summaries ORDER BY id DESC LIMIT $1
	`, clampLimit(limit, 20))
	if err != nil {
		return nil, fmt.Errorf("list scan summaries: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.ScanSummary, error) {
		var (
			s  models.ScanSummary
			st string
		)
		err := row.Scan(&s.ID, &s.RunID, &st, &s.Processed, &s.Invalid, &s.Unsubscribed, &s.Errors,
			&s.Pruned, &s.StartedAt, &s.FinishedAt)
		s.Type = models.ScanType(st)
		return s, err
	})
}

// ── Locks ────────────────────────────────────────────────────────────────────

// TryLock inserts the row, or takes it over when the current holder's TTL
// has elapsed. Both paths are one statement, so two callers cannot both win.
func (p *Postgres) TryLock(ctx context.Context, l models.Lock) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		INSERT INTO locks (name, owner, acquired_at, ttl_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE
		SET owner = EXCLUDED.owner, acquired_at = EXCLUDED.acquired_at, ttl_ms = EXCLUDED.ttl_ms
		WHERE locks.acquired_at + locks.ttl_ms * INTERVAL '1 millisecond' <= EXCLUDED.acquired_at
	`, l.Name, l.Owner, l.AcquiredAt, l.TTL.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.Name, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) Unlock(ctx context.Context, name, owner string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM locks WHERE name = $1 AND owner = $2`, name, owner)
	if err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

func (p *Postgres) GetLock(ctx context.Context, name string) (*models.Lock, error) {
	var (
		l  models.Lock
		ms int64
	)
	err := p.pool.QueryRow(ctx, `SELECT name, owner, acquired_at, ttl_ms FROM locks WHERE name = $1`, name).
		Scan(&l.Name, &l.Owner, &l.AcquiredAt, &ms)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get lock %s: %w", name, err)
	}
	l.TTL = time.Duration(ms) * time.Millisecond
	return &l, nil
}

func (p *Postgres) ForceUnlock(ctx context.Context, name string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM locks WHERE name = $1`, name)
	if err != nil {
		return fmt.Errorf("force release lock %s: %w", name, err)
	}
	return nil
}

// ── Scheduler events ─────────────────────────────────────────────────────────

func (p *Postgres) AppendEvent(ctx context.Context, e *models.SchedulerEvent, keep int) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO scheduler_events (job, outcome, message, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, e.Job, e.Outcome, e.Message, e.DurationMs, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if keep > 0 {
		_, err = tx.Exec(ctx, `
			DELETE FROM scheduler_events
			WHERE id NOT IN (SELECT id FROM scheduler_events ORDER BY id DESC LIMIT $1)
		`, keep)
		if err != nil {
			return fmt.Errorf("trim events: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (p *Postgres) ListEvents(ctx context.Context, limit int) ([]models.SchedulerEvent, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, job, outcome, message, duration_ms, created_at
		FROM scheduler_events ORDER BY id DESC LIMIT $1
	`, clampLimit(limit, 100))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SchedulerEvent, error) {
		var e models.SchedulerEvent
		err := row.Scan(&e.ID, &e.Job, &e.Outcome, &e.Message, &e.DurationMs, &e.CreatedAt)
		return e, err
	})
}

// ── helpers ──────────────────────────────────────────────────────────────────

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// sortQueue orders items the way they are claimed: priority first, then age.
func sortQueue(items []models.QueueItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}
