package scan

import (
	"context"
	"fmt"

	"mailcleaner/internal/lock"
)

// Health reports what a health check repaired.
type Health struct {
	ClearedLocks    []string `json:"cleared_locks"`
	RecoveredClaims int64    `json:"recovered_claims"`
	Rearmed         []string `json:"rearmed"`
}

// HealthCheck clears batch locks held past the stale ceiling, returns queue
// items stuck in processing to the queue, and re-arms lost periodic jobs.
func (c *Coordinator) HealthCheck(ctx context.Context) (*Health, error) {
	h := &Health{ClearedLocks: []string{}, Rearmed: []string{}}

	for _, name := range []string{lock.Scan, lock.Revalidation} {
		cleared, err := c.guard.ClearStale(ctx, name, c.ceiling)
		if err != nil {
			return h, fmt.Errorf("health check: %w", err)
		}
		if cleared {
			h.ClearedLocks = append(h.ClearedLocks, name)
			c.metrics.LockCleared(name)
		}
	}

	if c.queue != nil {
		n, err := c.queue.RecoverStale(ctx, c.lockTTL)
		if err != nil {
			return h, fmt.Errorf("health check: %w", err)
		}
		h.RecoveredClaims = n
	}

	if c.triggers != nil {
		h.Rearmed = append(h.Rearmed, c.triggers.Rearm(c.clock.Now())...)
	}

	c.logger.Info("health check done",
		"cleared_locks", h.ClearedLocks,
		"recovered_claims", h.RecoveredClaims,
		"rearmed", h.Rearmed,
	)
	return h, nil
}
