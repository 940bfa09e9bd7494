package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcleaner/internal/clock"
	"mailcleaner/internal/models"
	"mailcleaner/internal/queue"
	"mailcleaner/internal/store"
)

var now = time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T) (*Scheduler, *clock.Fixed, *store.Bolt) {
	t.Helper()
	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	clk := clock.NewFixed(now)
	return New(s, WithClock(clk)), clk, s
}

func counting(n *atomic.Int32, rep Report, err error) func(context.Context) (Report, error) {
	return func(context.Context) (Report, error) {
		n.Add(1)
		return rep, err
	}
}

func TestTriggerRecordsEvent(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	var runs atomic.Int32
	sched.Add(Job{Name: "ok", Interval: time.Hour, Run: counting(&runs, Report{Outcome: models.OutcomeCompleted, Message: "done"}, nil)})
	sched.Add(Job{Name: "broken", Interval: time.Hour, Run: counting(&runs, Report{}, errors.New("db down"))})

	ev, err := sched.Trigger(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, "completed", ev.Outcome)
	assert.Equal(t, "done", ev.Message)

	ev, err = sched.Trigger(ctx, "broken")
	require.NoError(t, err)
	assert.Equal(t, "failed", ev.Outcome)
	assert.Equal(t, "db down", ev.Message)

	_, err = sched.Trigger(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)

	events, err := sched.Events(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "broken", events[0].Job)
	assert.Equal(t, "ok", events[1].Job)
	assert.EqualValues(t, 2, runs.Load())
}

func TestTriggerRejectsWhileRunning(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	sched.Add(Job{Name: "slow", Interval: time.Hour, Run: func(context.Context) (Report, error) {
		close(started)
		<-release
		return Report{Outcome: models.OutcomeCompleted}, nil
	}})

	done := make(chan error, 1)
	go func() {
		_, err := sched.Trigger(ctx, "slow")
		done <- err
	}()
	<-started

	_, err := sched.Trigger(ctx, "slow")
	assert.ErrorIs(t, err, ErrRunning)
	assert.True(t, sched.Jobs()[0].Running)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, sched.Jobs()[0].Running)
}

func TestRunDue(t *testing.T) {
	sched, clk, _ := newTestScheduler(t)
	ctx := context.Background()

	var hourly, daily atomic.Int32
	sched.Add(Job{Name: "hourly", Interval: time.Hour, Run: counting(&hourly, Report{Outcome: models.OutcomeCompleted}, nil)})
	sched.Add(Job{Name: "daily", Interval: day, Run: counting(&daily, Report{Outcome: models.OutcomeCompleted}, nil)})

	sched.runDue(ctx)
	sched.wg.Wait()
	assert.Zero(t, hourly.Load(), "nothing is due right after registration")

	clk.Advance(time.Hour)
	sched.runDue(ctx)
	sched.wg.Wait()
	assert.EqualValues(t, 1, hourly.Load())
	assert.Zero(t, daily.Load())

	sched.runDue(ctx)
	sched.wg.Wait()
	assert.EqualValues(t, 1, hourly.Load(), "a run pushes the next one out by an interval")

	for _, j := range sched.Jobs() {
		if j.Name == "hourly" {
			assert.Equal(t, now.Add(2*time.Hour), j.NextRun)
			assert.Equal(t, now.Add(time.Hour), j.LastRun)
		}
	}
}

func TestFollowUp(t *testing.T) {
	sched, clk, _ := newTestScheduler(t)
	ctx := context.Background()

	var runs atomic.Int32
	pending := true
	sched.Add(Job{
		Name:          JobRevalidation,
		Interval:      time.Hour,
		FollowUpAfter: followUpDelay,
		Run: func(context.Context) (Report, error) {
			runs.Add(1)
			return Report{Outcome: models.OutcomeCompleted, FollowUp: pending}, nil
		},
	})

	_, err := sched.Trigger(ctx, JobRevalidation)
	require.NoError(t, err)
	assert.Equal(t, now.Add(followUpDelay), sched.Jobs()[0].NextRun)

	pending = false
	clk.Advance(followUpDelay)
	sched.runDue(ctx)
	sched.wg.Wait()
	assert.EqualValues(t, 2, runs.Load())
	assert.Equal(t, now.Add(followUpDelay+time.Hour), sched.Jobs()[0].NextRun)
}

func TestRearm(t *testing.T) {
	sched, clk, _ := newTestScheduler(t)

	sched.Add(Job{Name: "hourly", Interval: time.Hour, Run: counting(new(atomic.Int32), Report{}, nil)})
	sched.Add(Job{Name: "daily", Interval: day, Run: counting(new(atomic.Int32), Report{}, nil)})

	assert.Empty(t, sched.Rearm(clk.Now()))

	// The hourly job was due at +1h; at +2h30m it is overdue by more than an interval.
	clk.Advance(2*time.Hour + 30*time.Minute)
	assert.Equal(t, []string{"hourly"}, sched.Rearm(clk.Now()))

	for _, j := range sched.Jobs() {
		switch j.Name {
		case "hourly":
			assert.Equal(t, clk.Now(), j.NextRun)
		case "daily":
			assert.Equal(t, now.Add(day), j.NextRun)
		}
	}

	sched.mu.Lock()
	sched.jobs["daily"].next = time.Time{}
	sched.mu.Unlock()
	assert.Equal(t, []string{"daily"}, sched.Rearm(clk.Now()))
}

func TestEventLogIsBounded(t *testing.T) {
	sched, _, _ := newTestScheduler(t)
	ctx := context.Background()
	sched.Add(Job{Name: "tick", Interval: time.Hour, Run: counting(new(atomic.Int32), Report{Outcome: models.OutcomeCompleted}, nil)})

	for range EventLogSize + 5 {
		_, err := sched.Trigger(ctx, "tick")
		require.NoError(t, err)
	}

	events, err := sched.Events(ctx, 500)
	require.NoError(t, err)
	assert.Len(t, events, EventLogSize)
	assert.EqualValues(t, EventLogSize+5, events[0].ID)
}

type staticSettings models.Settings

func (s staticSettings) Snapshot() (models.Settings, error) { return models.Settings(s), nil }

func TestPopulateJobSkipsLargeBacklog(t *testing.T) {
	_, clk, st := newTestScheduler(t)
	ctx := context.Background()
	q := queue.New(st, clk, nil)
	d := Deps{Settings: staticSettings(models.DefaultSettings()), Queue: q}

	rep, err := d.populate(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, rep.Outcome)
	assert.Equal(t, "No eligible emails found for revalidation", rep.Message)

	for i := range populateBacklog + 1 {
		ok, err := st.InsertQueueItem(ctx, &models.QueueItem{
			SubscriberID: int64(i + 1),
			Email:        "someone@shop.com",
			Priority:     50,
			CreatedAt:    now,
		})
		require.NoError(t, err)
		require.True(t, ok)
	}

	rep, err = d.populate(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSkipped, rep.Outcome)
	assert.Equal(t, "101 items already pending", rep.Message)

	disabled := models.DefaultSettings()
	disabled.RevalidationEnabled = false
	d.Settings = staticSettings(disabled)
	rep, err = d.populate(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeDisabled, rep.Outcome)
}
