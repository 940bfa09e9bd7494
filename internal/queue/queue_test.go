package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcleaner/internal/clock"
	"mailcleaner/internal/models"
	"mailcleaner/internal/store"
)

var now = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestQueue(t *testing.T) (*Queue, *store.Bolt) {
	t.Helper()
	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, clock.NewFixed(now), nil), s
}

// rejected seeds a subscriber that a scan auto-unsubscribed daysAgo with score.
func rejected(t *testing.T, s *store.Bolt, email string, score, daysAgo int) int64 {
	t.Helper()
	ctx := context.Background()
	sub := &models.Subscriber{Email: email, Status: models.SubscriberUnsubscribed, CreatedAt: now.AddDate(-1, 0, 0)}
	require.NoError(t, s.AddSubscriber(ctx, sub))
	require.NoError(t, s.AppendAudit(ctx, &models.AuditLogEntry{
		SubscriberID: sub.ID,
		Email:        email,
		Score:        score,
		Action:       models.ActionAutoUnsubscribed,
		CreatedAt:    now.AddDate(0, 0, -daysAgo),
	}))
	return sub.ID
}

func TestPriority(t *testing.T) {
	tests := []struct {
		name     string
		score    int
		daysAgo  int
		domain   string
		settings models.Settings
		want     int
	}{
		{"base only", 10, 90, "mail.io", models.Settings{}, 50},
		{"score bands are not additive", 55, 90, "mail.io", models.Settings{}, 80},
		{"score 40 band", 40, 90, "mail.io", models.Settings{}, 70},
		{"score 30 band", 30, 90, "mail.io", models.Settings{}, 60},
		{"rejected this week", 10, 3, "mail.io", models.Settings{}, 65},
		{"rejected this month", 10, 10, "mail.io", models.Settings{}, 60},
		{"rejected within 60 days", 10, 45, "mail.io", models.Settings{}, 55},
		{"business domain", 10, 90, "acme.com", models.Settings{}, 60},
		{"whitelisted", 10, 90, "mail.io", models.Settings{WhitelistDomains: []string{"MAIL.io"}}, 75},
		{"capped at 100", 55, 1, "acme.com", models.Settings{WhitelistDomains: []string{"acme.com"}}, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Priority(tt.score, now.AddDate(0, 0, -tt.daysAgo), now, tt.domain, tt.settings)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPopulateSelectsCandidates(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	stale := rejected(t, s, "old@shop.com", 40, 100)
	fresh := rejected(t, s, "fresh@shop.com", 35, 10)
	rejected(t, s, "toohigh@shop.com", 70, 5)
	rejected(t, s, "toolow@shop.com", 10, 5)

	// Confirmed subscribers are never candidates, even with a rejection on file.
	confirmed := &models.Subscriber{Email: "back@shop.com", Status: models.SubscriberConfirmed}
	require.NoError(t, s.AddSubscriber(ctx, confirmed))
	require.NoError(t, s.AppendAudit(ctx, &models.AuditLogEntry{
		SubscriberID: confirmed.ID, Email: confirmed.Email, Score: 40,
		Action: models.ActionAutoUnsubscribed, CreatedAt: now.AddDate(0, 0, -2),
	}))

	// Unsubscribed by the person, not by a scan.
	manual := &models.Subscriber{Email: "left@shop.com", Status: models.SubscriberUnsubscribed}
	require.NoError(t, s.AddSubscriber(ctx, manual))

	res, err := q.Populate(ctx, models.PopulateCriteria{MaxAgeDays: 90, MinOriginalScore: 20, MaxOriginalScore: 60}, models.Settings{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Queued)
	assert.Equal(t, 1, res.Candidates)

	items, err := q.List(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	it := items[0]
	assert.Equal(t, fresh, it.SubscriberID)
	assert.NotEqual(t, stale, it.SubscriberID)
	assert.Equal(t, 35, it.OriginalScore)
	assert.Equal(t, models.QueuePending, it.Status)
	assert.GreaterOrEqual(t, it.Priority, 75)
	assert.Equal(t, 80, it.Priority, "50 base, 10 score band, 10 recency band, 10 business domain")

	queued, err := s.ListAudit(ctx, models.AuditFilter{Action: models.ActionQueued})
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, it.ID, queued[0].QueueItemID)
}

func TestPopulateTwiceKeepsOneActiveItem(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	rejected(t, s, "a@shop.com", 45, 3)
	rejected(t, s, "b@shop.com", 50, 3)

	first, err := q.Populate(ctx, models.DefaultPopulateCriteria(), models.Settings{})
	require.NoError(t, err)
	assert.Equal(t, 2, first.Queued)

	second, err := q.Populate(ctx, models.DefaultPopulateCriteria(), models.Settings{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Queued)
	assert.Equal(t, 2, second.Duplicates)

	// Completed items still count as active.
	items, err := q.NextBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.NoError(t, q.UpdateStatus(ctx, items[0].ID, models.QueueCompleted, "done"))

	third, err := q.Populate(ctx, models.DefaultPopulateCriteria(), models.Settings{})
	require.NoError(t, err)
	assert.Equal(t, 0, third.Queued)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, 1, st.Completed)
}

func TestPopulateLimitAndForce(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	rejected(t, s, "low@shop.com", 20, 3)
	high := rejected(t, s, "high@shop.com", 55, 3)
	mid := rejected(t, s, "mid@shop.com", 42, 3)

	c := models.DefaultPopulateCriteria()
	c.Limit = 2
	res, err := q.Populate(ctx, c, models.Settings{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Queued)
	assert.Equal(t, 3, res.Candidates)

	batch, err := q.NextBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, high, batch[0].SubscriberID)
	assert.Equal(t, mid, batch[1].SubscriberID)

	c.Limit = 10
	c.ForceRepopulate = true
	res, err = q.Populate(ctx, c, models.Settings{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Cleared)
	assert.Equal(t, 3, res.Queued)
}

func TestPopulateWithNoCandidates(t *testing.T) {
	q, _ := newTestQueue(t)

	res, err := q.Populate(context.Background(), models.DefaultPopulateCriteria(), models.Settings{})
	require.NoError(t, err)
	assert.Zero(t, res.Queued)
	assert.Equal(t, "No eligible emails found for revalidation", res.Message)
}

func TestStatusTransitions(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	rejected(t, s, "a@shop.com", 45, 3)
	_, err := q.Populate(ctx, models.DefaultPopulateCriteria(), models.Settings{})
	require.NoError(t, err)

	batch, err := q.NextBatch(ctx, 5)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	it := batch[0]
	assert.Equal(t, 1, it.Attempts)

	assert.ErrorIs(t, q.UpdateStatus(ctx, it.ID, models.QueueProcessing, ""), ErrBadStatus)

	// First two failures go back to pending, the third sticks.
	for attempt := 1; attempt <= models.MaxQueueAttempts; attempt++ {
		status, err := q.Retry(ctx, it, "boom")
		require.NoError(t, err)
		if attempt < models.MaxQueueAttempts {
			assert.Equal(t, models.QueuePending, status)
			batch, err = q.NextBatch(ctx, 5)
			require.NoError(t, err)
			require.Len(t, batch, 1)
			it = batch[0]
		} else {
			assert.Equal(t, models.QueueFailed, status)
		}
	}

	got, err := q.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QueueFailed, got.Status)
	assert.Equal(t, "boom", got.Notes)

	// Idempotent.
	require.NoError(t, q.UpdateStatus(ctx, it.ID, models.QueueFailed, ""))
	require.NoError(t, q.UpdateStatus(ctx, it.ID, models.QueueFailed, ""))
}

func TestRecoverStale(t *testing.T) {
	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clk := clock.NewFixed(now)
	q := New(s, clk, nil)
	ctx := context.Background()

	rejected(t, s, "a@shop.com", 45, 3)
	_, err = q.Populate(ctx, models.DefaultPopulateCriteria(), models.Settings{})
	require.NoError(t, err)
	_, err = q.NextBatch(ctx, 5)
	require.NoError(t, err)

	n, err := q.RecoverStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n)

	clk.Advance(2 * time.Hour)
	n, err = q.RecoverStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Pending)
}
