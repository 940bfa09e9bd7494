// Package lock provides the named TTL locks that keep batch jobs from
// overlapping across processes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mailcleaner/internal/clock"
	"mailcleaner/internal/models"
	"mailcleaner/internal/store"
)

var ErrHeld = errors.New("lock: held by another run")

// Well-known lock names.
const (
	Scan         = "bulk_scan"
	Revalidation = "revalidation_processing"
)

// Guard hands out locks backed by any store.LockStore.
type Guard struct {
	backend store.LockStore
	clock   clock.Clock
	newID   clock.IDGenerator
	logger  *slog.Logger
}

func NewGuard(backend store.LockStore, clk clock.Clock, newID clock.IDGenerator, logger *slog.Logger) *Guard {
	if clk == nil {
		clk = clock.System{}
	}
	if newID == nil {
		newID = clock.NewID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{backend: backend, clock: clk, newID: newID, logger: logger.With("component", "lock")}
}

// Handle is a held lock.
type Handle struct {
	g    *Guard
	Lock models.Lock
}

// Acquire takes name for ttl or returns ErrHeld.
func (g *Guard) Acquire(ctx context.Context, name string, ttl time.Duration) (*Handle, error) {
	l := models.Lock{Name: name, Owner: g.newID(), AcquiredAt: g.clock.Now(), TTL: ttl}
	ok, err := g.backend.TryLock(ctx, l)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", name, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	g.logger.Debug("lock acquired", "name", name, "owner", l.Owner, "ttl", ttl)
	return &Handle{g: g, Lock: l}, nil
}

// Release gives the lock back. It runs even when ctx is already cancelled so
// a deferred release after a timeout still clears the row.
func (h *Handle) Release(ctx context.Context) error {
	if err := h.g.backend.Unlock(context.WithoutCancel(ctx), h.Lock.Name, h.Lock.Owner); err != nil {
		h.g.logger.Error("lock release failed", "name", h.Lock.Name, "error", err)
		return err
	}
	return nil
}

// Status returns the current holder, or nil when the lock is free.
func (g *Guard) Status(ctx context.Context, name string) (*models.Lock, error) {
	l, err := g.backend.GetLock(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return l, err
}

// ClearStale force-releases name when it has been held longer than ceiling
// or past its own TTL. It reports whether a lock was cleared.
func (g *Guard) ClearStale(ctx context.Context, name string, ceiling time.Duration) (bool, error) {
	l, err := g.Status(ctx, name)
	if err != nil || l == nil {
		return false, err
	}
	now := g.clock.Now()
	if !l.Expired(now) && l.Age(now) <= ceiling {
		return false, nil
	}
	if err := g.backend.ForceUnlock(ctx, name); err != nil {
		return false, fmt.Errorf("clear %s: %w", name, err)
	}
	g.logger.Warn("cleared stale lock", "name", name, "owner", l.Owner, "age", l.Age(now).Round(time.Second))
	return true, nil
}
