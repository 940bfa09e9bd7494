package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"mailcleaner/internal/models"
)

var (
	bucketSubscribers = []byte("subscribers")
	bucketEmails      = []byte("subscriber_emails")
	bucketAudit       = []byte("audit_log")
	bucketQueue       = []byte("revalidation_queue")
	bucketResults     = []byte("revalidation_results")
	bucketScans       = []byte("scan_summaries")
	bucketLocks       = []byte("locks")
	bucketEvents      = []byte("scheduler_events")

	allBuckets = [][]byte{
		bucketSubscribers, bucketEmails, bucketAudit, bucketQueue,
		bucketResults, bucketScans, bucketLocks, bucketEvents,
	}
)

// Bolt implements Store in a single bbolt file. bbolt allows one writer at a
// time, so every read-modify-write below is atomic by construction.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database file.
func OpenBolt(path string) (*Bolt, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func (s *Bolt) Close() error { return s.db.Close() }

func itob(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v any) error {
	data := b.Get(key)
	if data == nil {
		return ErrNotFound
	}
	return json.Unmarshal(data, v)
}

func nextID(b *bolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("next sequence: %w", err)
	}
	return int64(seq), nil
}

// eachJSON decodes every value in the bucket in key order.
func eachJSON[T any](b *bolt.Bucket, fn func(T) error) error {
	return b.ForEach(func(_, v []byte) error {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		return fn(item)
	})
}

// ── Subscribers ──────────────────────────────────────────────────────────────

func (s *Bolt) AddSubscriber(_ context.Context, sub *models.Subscriber) error {
	sub.Email = strings.ToLower(strings.TrimSpace(sub.Email))
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	sub.UpdatedAt = sub.CreatedAt

	return s.db.Update(func(tx *bolt.Tx) error {
		emails := tx.Bucket(bucketEmails)
		if emails.Get([]byte(sub.Email)) != nil {
			return fmt.Errorf("subscriber %s already exists", sub.Email)
		}
		subs := tx.Bucket(bucketSubscribers)
		id, err := nextID(subs)
		if err != nil {
			return err
		}
		sub.ID = id
		if err := emails.Put([]byte(sub.Email), itob(id)); err != nil {
			return err
		}
		return putJSON(subs, itob(id), sub)
	})
}

func (s *Bolt) GetSubscriber(_ context.Context, id int64) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketSubscribers), itob(id), &sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Bolt) FindSubscriberByEmail(_ context.Context, email string) (*models.Subscriber, error) {
	var sub models.Subscriber
	err := s.db.View(func(tx *bolt.Tx) error {
		id := tx.Bucket(bucketEmails).Get([]byte(strings.ToLower(strings.TrimSpace(email))))
		if id == nil {
			return ErrNotFound
		}
		return getJSON(tx.Bucket(bucketSubscribers), id, &sub)
	})
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *Bolt) ListSubscribers(_ context.Context, status string, afterID int64, limit int) ([]models.Subscriber, error) {
	limit = clampLimit(limit, 100)
	var out []models.Subscriber
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketSubscribers).Cursor()
		for k, v := c.Seek(itob(afterID + 1)); k != nil && len(out) < limit; k, v = c.Next() {
			var sub models.Subscriber
			if err := json.Unmarshal(v, &sub); err != nil {
				return err
			}
			if status == "" || sub.Status == status {
				out = append(out, sub)
			}
		}
		return nil
	})
	return out, err
}

func (s *Bolt) SetSubscriberStatus(_ context.Context, id int64, status string, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSubscribers)
		var sub models.Subscriber
		if err := getJSON(b, itob(id), &sub); err != nil {
			return err
		}
		sub.Status = status
		sub.UpdatedAt = now
		return putJSON(b, itob(id), &sub)
	})
}

func (s *Bolt) CountSubscribers(_ context.Context, status string) (int, error) {
	n := 0
	err := s.db.View(func(tx *bolt.Tx) error {
		return eachJSON(tx.Bucket(bucketSubscribers), func(sub models.Subscriber) error {
			if status == "" || sub.Status == status {
				n++
			}
			return nil
		})
	})
	return n, err
}

// ── Audit log ────────────────────────────────────────────────────────────────

func (s *Bolt) AppendAudit(_ context.Context, e *models.AuditLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		id, err := nextID(b)
		if err != nil {
			return err
		}
		e.ID = id
		return putJSON(b, itob(id), e)
	})
}

func auditMatches(e models.AuditLogEntry, f models.AuditFilter) bool {
	switch {
	case f.EmailContains != "" && !strings.Contains(strings.ToLower(e.Email), strings.ToLower(f.EmailContains)):
		return false
	case f.IsValid != nil && e.IsValid != *f.IsValid:
		return false
	case f.Action != "" && e.Action != f.Action:
		return false
	case !f.From.IsZero() && e.CreatedAt.Before(f.From):
		return false
	case !f.To.IsZero() && !e.CreatedAt.Before(f.To):
		return false
	}
	return true
}

func newerAudit(a, b models.AuditLogEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func (s *Bolt) ListAudit(_ context.Context, f models.AuditFilter) ([]models.AuditLogEntry, error) {
	var all []models.AuditLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		return eachJSON(tx.Bucket(bucketAudit), func(e models.AuditLogEntry) error {
			if auditMatches(e, f) {
				all = append(all, e)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(all, func(i, j int) bool { return newerAudit(all[i], all[j]) })
	return page(all, clampLimit(f.Limit, 50), f.Offset), nil
}

func (s *Bolt) AuditStats(_ context.Context, now time.Time) (models.AuditStats, error) {
	var (
		st    models.AuditStats
		sum   int
		since = now.AddDate(0, 0, -7)
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		return eachJSON(tx.Bucket(bucketAudit), func(e models.AuditLogEntry) error {
			st.Total++
			sum += e.Score
			if e.IsValid {
				st.Valid++
			} else {
				st.Invalid++
			}
			if !e.CreatedAt.Before(since) {
				st.LastSevenDay++
			}
			return nil
		})
	})
	if st.Total > 0 {
		st.AverageScore = float64(sum) / float64(st.Total)
	}
	return st, err
}

func (s *Bolt) LatestAudit(_ context.Context, subscriberIDs []int64, action models.ActionTaken) (map[int64]models.AuditLogEntry, error) {
	want := make(map[int64]bool, len(subscriberIDs))
	for _, id := range subscriberIDs {
		want[id] = true
	}
	out := make(map[int64]models.AuditLogEntry)
	err := s.db.View(func(tx *bolt.Tx) error {
		return eachJSON(tx.Bucket(bucketAudit), func(e models.AuditLogEntry) error {
			if !want[e.SubscriberID] || (action != "" && e.Action != action) {
				return nil
			}
			if cur, ok := out[e.SubscriberID]; !ok || newerAudit(e, cur) {
				out[e.SubscriberID] = e
			}
			return nil
		})
	})
	return out, err
}

func (s *Bolt) PruneAudit(_ context.Context, before time.Time) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAudit)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var e models.AuditLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.CreatedAt.Before(before) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = int64(len(stale))
		return nil
	})
	return n, err
}

func (s *Bolt) ClearAudit(_ context.Context) (int64, error) {
	return s.resetBucket(bucketAudit)
}

// resetBucket drops and recreates a bucket, returning how many keys it held.
// The sequence restarts, which is fine for tables that are wiped wholesale.
func (s *Bolt) resetBucket(name []byte) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		n = int64(countKeys(tx.Bucket(name)))
		if err := tx.DeleteBucket(name); err != nil {
			return err
		}
		_, err := tx.CreateBucket(name)
		return err
	})
	return n, err
}

// ── Revalidation queue ───────────────────────────────────────────────────────

func (s *Bolt) InsertQueueItem(_ context.Context, it *models.QueueItem) (bool, error) {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	if it.Status == "" {
		it.Status = models.QueuePending
	}

	inserted := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		taken := false
		err := eachJSON(b, func(cur models.QueueItem) error {
			if cur.SubscriberID == it.SubscriberID && cur.Status.Active() {
				taken = true
			}
			return nil
		})
		if err != nil || taken {
			return err
		}
		id, err := nextID(b)
		if err != nil {
			return err
		}
		it.ID = id
		inserted = true
		return putJSON(b, itob(id), it)
	})
	return inserted, err
}

func (s *Bolt) ClaimQueueItems(_ context.Context, limit int, now time.Time) ([]models.QueueItem, error) {
	limit = clampLimit(limit, 25)
	var claimed []models.QueueItem
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		var pending []models.QueueItem
		err := eachJSON(b, func(it models.QueueItem) error {
			if it.Status == models.QueuePending && it.Attempts < models.MaxQueueAttempts {
				pending = append(pending, it)
			}
			return nil
		})
		if err != nil {
			return err
		}
		sortQueue(pending)
		if len(pending) > limit {
			pending = pending[:limit]
		}
		for i := range pending {
			at := now
			pending[i].Status = models.QueueProcessing
			pending[i].Attempts++
			pending[i].ClaimedAt = &at
			if err := putJSON(b, itob(pending[i].ID), &pending[i]); err != nil {
				return err
			}
		}
		claimed = pending
		return nil
	})
	return claimed, err
}

func (s *Bolt) UpdateQueueItem(_ context.Context, id int64, status models.QueueStatus, notes string, now time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		var it models.QueueItem
		if err := getJSON(b, itob(id), &it); err != nil {
			return err
		}
		it.Status = status
		if notes != "" {
			it.Notes = notes
		}
		if status == models.QueuePending {
			it.ClaimedAt = nil
		} else {
			at := now
			it.ProcessedAt = &at
		}
		return putJSON(b, itob(id), &it)
	})
}

func (s *Bolt) GetQueueItem(_ context.Context, id int64) (*models.QueueItem, error) {
	var it models.QueueItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketQueue), itob(id), &it)
	})
	if err != nil {
		return nil, err
	}
	return &it, nil
}

func (s *Bolt) ListQueueItems(_ context.Context, status models.QueueStatus, limit int) ([]models.QueueItem, error) {
	var out []models.QueueItem
	err := s.db.View(func(tx *bolt.Tx) error {
		return eachJSON(tx.Bucket(bucketQueue), func(it models.QueueItem) error {
			if status == "" || it.Status == status {
				out = append(out, it)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortQueue(out)
	return page(out, clampLimit(limit, 100), 0), nil
}

func (s *Bolt) QueueStats(_ context.Context) (models.QueueStats, error) {
	var (
		st  models.QueueStats
		sum int
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		return eachJSON(tx.Bucket(bucketQueue), func(it models.QueueItem) error {
			st.Total++
			sum += it.Priority
			switch it.Status {
			case models.QueuePending:
				st.Pending++
			case models.QueueProcessing:
				st.Processing++
			case models.QueueCompleted:
				st.Completed++
			case models.QueueFailed:
				st.Failed++
			case models.QueueManualReview:
				st.ManualReview++
			}
			return nil
		})
	})
	if st.Total > 0 {
		st.AvgPriority = float64(sum) / float64(st.Total)
	}
	return st, err
}

func (s *Bolt) ResetStaleClaims(_ context.Context, claimedBefore time.Time) (int64, error) {
	var n int64
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketQueue)
		var stale []models.QueueItem
		err := eachJSON(b, func(it models.QueueItem) error {
			if it.Status == models.QueueProcessing && it.ClaimedAt != nil && it.ClaimedAt.Before(claimedBefore) {
				stale = append(stale, it)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for i := range stale {
			stale[i].ClaimedAt = nil
			stale[i].Status = models.QueuePending
			if stale[i].Attempts >= models.MaxQueueAttempts {
				stale[i].Status = models.QueueFailed
			}
			if err := putJSON(b, itob(stale[i].ID), &stale[i]); err != nil {
				return err
			}
		}
		n = int64(len(stale))
		return nil
	})
	return n, err
}

// ClearQueue also drops the results, which only make sense next to their items.
func (s *Bolt) ClearQueue(_ context.Context) (int64, error) {
	n, err := s.resetBucket(bucketQueue)
	if err != nil {
		return 0, err
	}
	_, err = s.resetBucket(bucketResults)
	return n, err
}

// ── Revalidation results ─────────────────────────────────────────────────────

func (s *Bolt) AppendResult(_ context.Context, r *models.RevalidationResult) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResults)
		id, err := nextID(b)
		if err != nil {
			return err
		}
		r.ID = id
		return putJSON(b, itob(id), r)
	})
}

func (s *Bolt) GetResult(_ context.Context, id int64) (*models.RevalidationResult, error) {
	var r models.RevalidationResult
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketResults), itob(id), &r)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *Bolt) ListResults(_ context.Context, limit, offset int) ([]models.RevalidationResult, error) {
	var out []models.RevalidationResult
	err := s.db.View(func(tx *bolt.Tx) error {
		return newestFirst(tx.Bucket(bucketResults), clampLimit(limit, 50), offset, func(r models.RevalidationResult) {
			out = append(out, r)
		})
	})
	return out, err
}

// ── Scan summaries ───────────────────────────────────────────────────────────

func (s *Bolt) AppendScanSummary(_ context.Context, sum *models.ScanSummary) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketScans)
		id, err := nextID(b)
		if err != nil {
			return err
		}
		sum.ID = id
		return putJSON(b, itob(id), sum)
	})
}

func (s *Bolt) ListScanSummaries(_ context.Context, limit int) ([]models.ScanSummary, error) {
	var out []models.ScanSummary
	err := s.db.View(func(tx *bolt.Tx) error {
		return newestFirst(tx.Bucket(bucketScans), clampLimit(limit, 20), 0, func(sum models.ScanSummary) {
			out = append(out, sum)
		})
	})
	return out, err
}

// ── Locks ────────────────────────────────────────────────────────────────────

func (s *Bolt) TryLock(_ context.Context, l models.Lock) (bool, error) {
	acquired := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		var cur models.Lock
		switch err := getJSON(b, []byte(l.Name), &cur); {
		case err == nil:
			if !cur.Expired(l.AcquiredAt) {
				return nil
			}
		case !errors.Is(err, ErrNotFound):
			return err
		}
		acquired = true
		return putJSON(b, []byte(l.Name), &l)
	})
	return acquired, err
}

func (s *Bolt) Unlock(_ context.Context, name, owner string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLocks)
		var cur models.Lock
		if err := getJSON(b, []byte(name), &cur); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			return err
		}
		if cur.Owner != owner {
			return nil
		}
		return b.Delete([]byte(name))
	})
}

func (s *Bolt) GetLock(_ context.Context, name string) (*models.Lock, error) {
	var l models.Lock
	err := s.db.View(func(tx *bolt.Tx) error {
		return getJSON(tx.Bucket(bucketLocks), []byte(name), &l)
	})
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *Bolt) ForceUnlock(_ context.Context, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLocks).Delete([]byte(name))
	})
}

// ── Scheduler events ─────────────────────────────────────────────────────────

func (s *Bolt) AppendEvent(_ context.Context, e *models.SchedulerEvent, keep int) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		id, err := nextID(b)
		if err != nil {
			return err
		}
		e.ID = id
		if err := putJSON(b, itob(id), e); err != nil {
			return err
		}
		if keep <= 0 {
			return nil
		}

		excess := countKeys(b) - keep
		var old [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && len(old) < excess; k, _ = c.Next() {
			old = append(old, append([]byte(nil), k...))
		}
		for _, k := range old {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Bolt) ListEvents(_ context.Context, limit int) ([]models.SchedulerEvent, error) {
	var out []models.SchedulerEvent
	err := s.db.View(func(tx *bolt.Tx) error {
		return newestFirst(tx.Bucket(bucketEvents), clampLimit(limit, 100), 0, func(e models.SchedulerEvent) {
			out = append(out, e)
		})
	})
	return out, err
}

// ── helpers ──────────────────────────────────────────────────────────────────

// countKeys walks the bucket with a cursor, which also sees writes made
// earlier in the same transaction.
func countKeys(b *bolt.Bucket) int {
	n := 0
	c := b.Cursor()
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n
}

// newestFirst walks a sequence-keyed bucket backwards.
func newestFirst[T any](b *bolt.Bucket, limit, offset int, fn func(T)) error {
	c := b.Cursor()
	seen := 0
	for k, v := c.Last(); k != nil && seen < offset+limit; k, v = c.Prev() {
		seen++
		if seen <= offset {
			continue
		}
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			return err
		}
		fn(item)
	}
	return nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
