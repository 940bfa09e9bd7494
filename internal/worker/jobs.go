package worker

import (
	"context"
	"fmt"
	"time"

	"mailcleaner/internal/models"
	"mailcleaner/internal/queue"
	"mailcleaner/internal/revalidation"
	"mailcleaner/internal/scan"
)

const (
	JobRevalidation = "revalidation"
	JobPopulate     = "populate"
	JobScan         = "scan"
	JobHealth       = "health"

	day = 24 * time.Hour

	maxScheduledBatch = 25
	populateBacklog   = 100
	populateLimit     = 500
	followUpDelay     = 5 * time.Minute
)

// SettingsSource yields the current runtime settings.
type SettingsSource interface {
	Snapshot() (models.Settings, error)
}

// Deps are the components the standard jobs drive.
type Deps struct {
	Settings  SettingsSource
	Queue     *queue.Queue
	Processor *revalidation.Processor
	Scanner   *scan.Coordinator
}

// StandardJobs returns the four periodic jobs.
func StandardJobs(d Deps) []Job {
	return []Job{
		{Name: JobRevalidation, Interval: time.Hour, FollowUpAfter: followUpDelay, Run: d.processQueue},
		{Name: JobPopulate, Interval: day, Run: d.populate},
		{Name: JobScan, Interval: day, Run: d.scan},
		{Name: JobHealth, Interval: day, Run: d.health},
	}
}

// Register adds the standard jobs to s.
func Register(s *Scheduler, d Deps) {
	for _, j := range StandardJobs(d) {
		s.Add(j)
	}
}

func (d Deps) processQueue(ctx context.Context) (Report, error) {
	s, err := d.Settings.Snapshot()
	if err != nil {
		return Report{}, err
	}
	res, err := d.Processor.ProcessQueue(ctx, min(s.BatchSize, maxScheduledBatch), s)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Outcome: res.Outcome, Message: res.Message}
	if res.Outcome != models.OutcomeCompleted {
		return rep, nil
	}
	st, err := d.Queue.Stats(ctx)
	if err != nil {
		return rep, err
	}
	rep.FollowUp = st.Pending > 0
	return rep, nil
}

func (d Deps) populate(ctx context.Context) (Report, error) {
	s, err := d.Settings.Snapshot()
	if err != nil {
		return Report{}, err
	}
	if !s.RevalidationEnabled {
		return Report{Outcome: models.OutcomeDisabled, Message: "Revalidation system is disabled"}, nil
	}
	st, err := d.Queue.Stats(ctx)
	if err != nil {
		return Report{}, err
	}
	if st.Pending > populateBacklog {
		return Report{
			Outcome: models.OutcomeSkipped,
			Message: fmt.Sprintf("%d items already pending", st.Pending),
		}, nil
	}

	c := models.DefaultPopulateCriteria()
	c.MaxAgeDays = s.MaxAgeDays
	c.Limit = populateLimit
	res, err := d.Queue.Populate(ctx, c, s)
	if err != nil {
		return Report{}, err
	}
	return Report{Outcome: models.OutcomeCompleted, Message: res.Message}, nil
}

func (d Deps) scan(ctx context.Context) (Report, error) {
	s, err := d.Settings.Snapshot()
	if err != nil {
		return Report{}, err
	}
	res, err := d.Scanner.Run(ctx, models.ScanScheduled, s)
	if err != nil {
		return Report{}, err
	}
	return Report{Outcome: res.Outcome, Message: res.Message}, nil
}

func (d Deps) health(ctx context.Context) (Report, error) {
	h, err := d.Scanner.HealthCheck(ctx)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Outcome: models.OutcomeCompleted,
		Message: fmt.Sprintf("cleared locks %v, recovered %d claims, re-armed %v", h.ClearedLocks, h.RecoveredClaims, h.Rearmed),
	}, nil
}
