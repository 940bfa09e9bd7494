package lock

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcleaner/internal/clock"
	"mailcleaner/internal/store"
)

func newTestGuard(t *testing.T) (*Guard, *clock.Fixed) {
	t.Helper()
	s, err := store.OpenBolt(filepath.Join(t.TempDir(), "locks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	clk := clock.NewFixed(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	n := 0
	ids := func() string {
		n++
		return fmt.Sprintf("owner-%d", n)
	}
	return NewGuard(s, clk, ids, nil), clk
}

func TestAcquireIsExclusive(t *testing.T) {
	g, _ := newTestGuard(t)
	ctx := context.Background()

	h, err := g.Acquire(ctx, Scan, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", h.Lock.Owner)

	_, err = g.Acquire(ctx, Scan, time.Hour)
	assert.ErrorIs(t, err, ErrHeld)

	// Independent names do not block each other.
	other, err := g.Acquire(ctx, Revalidation, time.Hour)
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, h.Release(ctx))
	_, err = g.Acquire(ctx, Scan, time.Hour)
	assert.NoError(t, err)
}

func TestReleaseWithCancelledContext(t *testing.T) {
	g, _ := newTestGuard(t)

	h, err := g.Acquire(context.Background(), Scan, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, h.Release(ctx))

	held, err := g.Status(context.Background(), Scan)
	require.NoError(t, err)
	assert.Nil(t, held)
}

func TestClearStale(t *testing.T) {
	g, clk := newTestGuard(t)
	ctx := context.Background()

	_, err := g.Acquire(ctx, Revalidation, 30*time.Minute)
	require.NoError(t, err)

	cleared, err := g.ClearStale(ctx, Revalidation, 2*time.Hour)
	require.NoError(t, err)
	assert.False(t, cleared, "fresh lock stays")

	clk.Advance(31 * time.Minute)
	cleared, err = g.ClearStale(ctx, Revalidation, 2*time.Hour)
	require.NoError(t, err)
	assert.True(t, cleared, "past its TTL")

	cleared, err = g.ClearStale(ctx, Revalidation, 2*time.Hour)
	require.NoError(t, err)
	assert.False(t, cleared, "nothing left to clear")

	_, err = g.Acquire(ctx, Revalidation, 30*time.Minute)
	assert.NoError(t, err)
}

func TestStaleLockDoesNotBlockNextRun(t *testing.T) {
	g, clk := newTestGuard(t)
	ctx := context.Background()

	// A crashed run never releases.
	_, err := g.Acquire(ctx, Scan, time.Hour)
	require.NoError(t, err)

	clk.Advance(59 * time.Minute)
	_, err = g.Acquire(ctx, Scan, time.Hour)
	assert.ErrorIs(t, err, ErrHeld)

	clk.Advance(2 * time.Minute)
	h, err := g.Acquire(ctx, Scan, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "owner-3", h.Lock.Owner)
}
