package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"mailcleaner/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func openTestBolt(t *testing.T) *Bolt {
	t.Helper()
	s, err := OpenBolt(filepath.Join(t.TempDir(), "nested", "mailcleaner.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltSubscribers(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	for _, email := range []string{"a@acme.com", "B@acme.com", "c@acme.com", "d@acme.com"} {
		require.NoError(t, s.AddSubscriber(ctx, &models.Subscriber{Email: email, Status: models.SubscriberConfirmed}))
	}
	assert.Error(t, s.AddSubscriber(ctx, &models.Subscriber{Email: "a@acme.com"}), "duplicate email")

	found, err := s.FindSubscriberByEmail(ctx, "b@ACME.com")
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.ID)

	_, err = s.GetSubscriber(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	// Unsubscribing rows already walked must not shift the next page.
	page1, err := s.ListSubscribers(ctx, models.SubscriberConfirmed, 0, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)
	for _, sub := range page1 {
		require.NoError(t, s.SetSubscriberStatus(ctx, sub.ID, models.SubscriberUnsubscribed, t0))
	}
	page2, err := s.ListSubscribers(ctx, models.SubscriberConfirmed, page1[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.Equal(t, "c@acme.com", page2[0].Email)

	n, err := s.CountSubscribers(ctx, models.SubscriberUnsubscribed)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.ErrorIs(t, s.SetSubscriberStatus(ctx, 42, models.SubscriberConfirmed, t0), ErrNotFound)
}

func TestBoltAudit(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	entries := []models.AuditLogEntry{
		{SubscriberID: 1, Email: "jane@acme.com", IsValid: false, Score: 30, Action: models.ActionAutoUnsubscribed, CreatedAt: t0.AddDate(0, 0, -40)},
		{SubscriberID: 1, Email: "jane@acme.com", IsValid: true, Score: 70, Action: models.ActionQueued, CreatedAt: t0.AddDate(0, 0, -2)},
		{SubscriberID: 2, Email: "bob@acme.com", IsValid: false, Score: 20, Action: models.ActionAutoUnsubscribed, CreatedAt: t0.AddDate(0, 0, -1)},
		{SubscriberID: 0, Email: "new@gmail.com", IsValid: true, Score: 80, Action: models.ActionSubscriptionCheck, CreatedAt: t0},
	}
	for i := range entries {
		require.NoError(t, s.AppendAudit(ctx, &entries[i]))
		assert.Equal(t, int64(i+1), entries[i].ID)
	}

	t.Run("filters", func(t *testing.T) {
		valid := false
		got, err := s.ListAudit(ctx, models.AuditFilter{IsValid: &valid})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "bob@acme.com", got[0].Email, "newest first")

		got, err = s.ListAudit(ctx, models.AuditFilter{EmailContains: "JANE"})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.ListAudit(ctx, models.AuditFilter{From: t0.AddDate(0, 0, -3), To: t0})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.ListAudit(ctx, models.AuditFilter{Limit: 1, Offset: 3})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, entries[0].ID, got[0].ID)
	})

	t.Run("stats", func(t *testing.T) {
		st, err := s.AuditStats(ctx, t0)
		require.NoError(t, err)
		assert.Equal(t, 4, st.Total)
		assert.Equal(t, 2, st.Valid)
		assert.Equal(t, 2, st.Invalid)
		assert.Equal(t, 3, st.LastSevenDay)
		assert.InDelta(t, 50.0, st.AverageScore, 0.001)
	})

	t.Run("latest per subscriber", func(t *testing.T) {
		latest, err := s.LatestAudit(ctx, []int64{1, 2, 3}, "")
		require.NoError(t, err)
		assert.Len(t, latest, 2)
		assert.Equal(t, models.ActionQueued, latest[1].Action)

		latest, err = s.LatestAudit(ctx, []int64{1, 2}, models.ActionAutoUnsubscribed)
		require.NoError(t, err)
		assert.Equal(t, 30, latest[1].Score)
		assert.Equal(t, 20, latest[2].Score)
	})

	t.Run("prune and clear", func(t *testing.T) {
		n, err := s.PruneAudit(ctx, t0.AddDate(0, 0, -30))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		n, err = s.ClearAudit(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)

		st, err := s.AuditStats(ctx, t0)
		require.NoError(t, err)
		assert.Zero(t, st.Total)
	})
}

func TestBoltQueueUniqueness(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	item := func(sub int64) *models.QueueItem {
		return &models.QueueItem{SubscriberID: sub, Email: "x@acme.com", Priority: 50, CreatedAt: t0}
	}

	ok, err := s.InsertQueueItem(ctx, item(7))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.InsertQueueItem(ctx, item(7))
	require.NoError(t, err)
	assert.False(t, ok, "pending item blocks a second one")

	// Once the item leaves the active set, the subscriber can be queued again.
	require.NoError(t, s.UpdateQueueItem(ctx, 1, models.QueueFailed, "gave up", t0))
	ok, err = s.InsertQueueItem(ctx, item(7))
	require.NoError(t, err)
	assert.True(t, ok)

	failed, err := s.GetQueueItem(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "gave up", failed.Notes)
	require.NotNil(t, failed.ProcessedAt)
}

func TestBoltClaimOrderAndAttempts(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	prios := []int{40, 90, 90, 60}
	for i, p := range prios {
		_, err := s.InsertQueueItem(ctx, &models.QueueItem{
			SubscriberID: int64(i + 1),
			Priority:     p,
			CreatedAt:    t0.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	got, err := s.ClaimQueueItems(ctx, 3, t0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []int64{2, 3, 4}, []int64{got[0].ID, got[1].ID, got[2].ID})
	for _, it := range got {
		assert.Equal(t, models.QueueProcessing, it.Status)
		assert.Equal(t, 1, it.Attempts)
	}

	st, err := s.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 3, st.Processing)
	assert.InDelta(t, 70.0, st.AvgPriority, 0.001)

	// Stale claims go back to pending until the attempt limit is reached.
	n, err := s.ResetStaleClaims(ctx, t0.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for round := 2; round <= models.MaxQueueAttempts; round++ {
		_, err := s.ClaimQueueItems(ctx, 10, t0)
		require.NoError(t, err)
		_, err = s.ResetStaleClaims(ctx, t0.Add(time.Second))
		require.NoError(t, err)
	}

	// Item 1 missed the first claim, so it has one attempt left.
	st, err = s.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, st.Failed)
	assert.Equal(t, 1, st.Pending)

	got, err = s.ClaimQueueItems(ctx, 10, t0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, models.MaxQueueAttempts, got[0].Attempts)

	require.NoError(t, s.UpdateQueueItem(ctx, 1, models.QueuePending, "", t0))
	got, err = s.ClaimQueueItems(ctx, 10, t0)
	require.NoError(t, err)
	assert.Empty(t, got, "attempts exhausted")
}

func TestBoltConcurrentClaimsNeverOverlap(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	const items = 23
	for i := 1; i <= items; i++ {
		_, err := s.InsertQueueItem(ctx, &models.QueueItem{SubscriberID: int64(i), Priority: 1 + i%100, CreatedAt: t0})
		require.NoError(t, err)
	}

	var (
		mu      sync.Mutex
		claimed = map[int64]int{}
	)
	var g errgroup.Group
	for w := 0; w < 8; w++ {
		g.Go(func() error {
			got, err := s.ClaimQueueItems(ctx, 5, t0)
			if err != nil {
				return err
			}
			mu.Lock()
			for _, it := range got {
				claimed[it.ID]++
			}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Len(t, claimed, items)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "item %d claimed twice", id)
	}
}

func TestBoltLocks(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	lock := models.Lock{Name: "scan", Owner: "a", AcquiredAt: t0, TTL: time.Hour}
	ok, err := s.TryLock(ctx, lock)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, models.Lock{Name: "scan", Owner: "b", AcquiredAt: t0.Add(30 * time.Minute), TTL: time.Hour})
	require.NoError(t, err)
	assert.False(t, ok, "held and not expired")

	require.NoError(t, s.Unlock(ctx, "scan", "b"))
	held, err := s.GetLock(ctx, "scan")
	require.NoError(t, err)
	assert.Equal(t, "a", held.Owner, "only the owner releases")

	ok, err = s.TryLock(ctx, models.Lock{Name: "scan", Owner: "b", AcquiredAt: t0.Add(2 * time.Hour), TTL: time.Hour})
	require.NoError(t, err)
	assert.True(t, ok, "expired lock is taken over")

	require.NoError(t, s.ForceUnlock(ctx, "scan"))
	_, err = s.GetLock(ctx, "scan")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBoltEventsAreTrimmed(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, s.AppendEvent(ctx, &models.SchedulerEvent{Job: "scan", Outcome: "completed", CreatedAt: t0}, 5))
	}

	events, err := s.ListEvents(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, int64(7), events[0].ID)
	assert.Equal(t, int64(3), events[4].ID)
}

func TestBoltResultsAndClearQueue(t *testing.T) {
	s := openTestBolt(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		require.NoError(t, s.AppendResult(ctx, &models.RevalidationResult{
			QueueItemID: int64(i),
			Action:      models.RevalKeptUnsubscribed,
			NewValidation: &models.ValidationResult{
				Email: "jane@acme.com",
				Score: 40 + i,
			},
		}))
	}

	got, err := s.ListResults(ctx, 2, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, 43, got[0].NewValidation.Score)

	got, err = s.ListResults(ctx, 2, 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, int64(1), got[0].ID)

	_, err = s.ClearQueue(ctx)
	require.NoError(t, err)
	_, err = s.GetResult(ctx, 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
