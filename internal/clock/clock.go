package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies the current time. Batch jobs take one so tests can pin "now".
type Clock interface {
	Now() time.Time
}

// System is the wall clock.
type System struct{}

func (System) Now() time.Time { return time.Now().UTC() }

// Fixed is a settable clock for tests and replay tooling.
type Fixed struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixed(t time.Time) *Fixed { return &Fixed{t: t.UTC()} }

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

// Advance moves the clock forward by d.
func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

// IDGenerator hands out opaque unique ids (lock owners, scan runs).
type IDGenerator func() string

// NewID is the default generator.
func NewID() string { return uuid.NewString() }
