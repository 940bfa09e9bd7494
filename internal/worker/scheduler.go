// Package worker runs the periodic batch jobs: revalidation processing, queue
// population, the bulk scan and the health check.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mailcleaner/internal/clock"
	"mailcleaner/internal/models"
	"mailcleaner/internal/store"
)

const (
	// EventLogSize is how many scheduler events are kept.
	EventLogSize = 100
	defaultTick  = 30 * time.Second
)

var (
	ErrUnknownJob = errors.New("worker: unknown job")
	ErrRunning    = errors.New("worker: job already running")
)

// Report is what a job hands back to the scheduler.
type Report struct {
	Outcome models.Outcome
	Message string
	// FollowUp asks for an extra run after the job's follow-up delay.
	FollowUp bool
}

// Job is one periodic task.
type Job struct {
	Name     string
	Interval time.Duration
	// FollowUpAfter is how soon a requested follow-up runs. Zero disables it.
	FollowUpAfter time.Duration
	Run           func(ctx context.Context) (Report, error)
}

// JobStatus is the externally visible state of a job.
type JobStatus struct {
	Name     string    `json:"name"`
	Interval string    `json:"interval"`
	NextRun  time.Time `json:"next_run"`
	LastRun  time.Time `json:"last_run,omitempty"`
	Running  bool      `json:"running"`
}

type entry struct {
	job     Job
	next    time.Time
	last    time.Time
	running bool
}

// Scheduler fires jobs when they come due. Each job runs at most once at a
// time; different jobs may overlap.
type Scheduler struct {
	events store.EventStore
	clock  clock.Clock
	logger *slog.Logger
	tick   time.Duration

	mu   sync.Mutex
	jobs map[string]*entry
	wg   sync.WaitGroup
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option { return func(s *Scheduler) { s.clock = c } }

func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

// WithTick sets how often due jobs are looked for.
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

func New(events store.EventStore, opts ...Option) *Scheduler {
	s := &Scheduler{
		events: events,
		clock:  clock.System{},
		logger: slog.Default(),
		tick:   defaultTick,
		jobs:   make(map[string]*entry),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Add registers a job and arms its first run one interval from now.
func (s *Scheduler) Add(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.Name] = &entry{job: j, next: s.clock.Now().Add(j.Interval)}
}

// Run fires due jobs until ctx is cancelled, then waits for the ones in flight.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "jobs", len(s.jobs), "tick", s.tick)
	t := time.NewTicker(s.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			s.logger.Info("scheduler stopped")
			return nil
		case <-t.C:
			s.runDue(ctx)
		}
	}
}

// runDue starts every job whose next run has passed. Jobs run in their own
// goroutines so a long scan never delays the hourly revalidation.
func (s *Scheduler) runDue(ctx context.Context) {
	now := s.clock.Now()
	s.mu.Lock()
	var due []*entry
	for _, e := range s.jobs {
		if !e.running && !e.next.IsZero() && !now.Before(e.next) {
			e.running = true
			due = append(due, e)
		}
	}
	s.mu.Unlock()

	for _, e := range due {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.execute(ctx, e)
		}()
	}
}

// Trigger runs a job now, outside its timetable, and waits for it.
func (s *Scheduler) Trigger(ctx context.Context, name string) (*models.SchedulerEvent, error) {
	s.mu.Lock()
	e, ok := s.jobs[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	if e.running {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRunning, name)
	}
	e.running = true
	s.mu.Unlock()

	return s.execute(ctx, e), nil
}

// execute runs a job that the caller has already marked running.
func (s *Scheduler) execute(ctx context.Context, e *entry) *models.SchedulerEvent {
	start := s.clock.Now()
	s.mu.Lock()
	e.next = start.Add(e.job.Interval)
	s.mu.Unlock()

	rep, err := e.job.Run(ctx)
	if err != nil {
		rep.Outcome, rep.Message = models.OutcomeFailed, err.Error()
	}
	end := s.clock.Now()

	s.mu.Lock()
	e.running = false
	e.last = start
	if rep.FollowUp && e.job.FollowUpAfter > 0 {
		if at := end.Add(e.job.FollowUpAfter); at.Before(e.next) {
			e.next = at
		}
	}
	next := e.next
	s.mu.Unlock()

	ev := &models.SchedulerEvent{
		Job:        e.job.Name,
		Outcome:    string(rep.Outcome),
		Message:    rep.Message,
		DurationMs: end.Sub(start).Milliseconds(),
		CreatedAt:  end,
	}
	if err := s.events.AppendEvent(context.WithoutCancel(ctx), ev, EventLogSize); err != nil {
		s.logger.Error("event log write failed", "job", ev.Job, "error", err)
	}

	if err != nil {
		s.logger.Error("job failed", "job", ev.Job, "error", err, "next", next)
	} else {
		s.logger.Info("job finished", "job", ev.Job, "outcome", ev.Outcome, "message", ev.Message, "next", next)
	}
	return ev
}

// Rearm schedules any job whose next run is unset or overdue by more than
// one interval for the next tick. It returns the names it touched.
func (s *Scheduler) Rearm(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var names []string
	for name, e := range s.jobs {
		if e.running {
			continue
		}
		if e.next.IsZero() || now.Sub(e.next) > e.job.Interval {
			e.next = now
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) > 0 {
		s.logger.Warn("re-armed jobs", "jobs", names)
	}
	return names
}

// Jobs returns the state of every job, sorted by name.
func (s *Scheduler) Jobs() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.jobs))
	for _, e := range s.jobs {
		out = append(out, JobStatus{
			Name:     e.job.Name,
			Interval: e.job.Interval.String(),
			NextRun:  e.next,
			LastRun:  e.last,
			Running:  e.running,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Events returns the newest scheduler events first.
func (s *Scheduler) Events(ctx context.Context, limit int) ([]models.SchedulerEvent, error) {
	return s.events.ListEvents(ctx, limit)
}
