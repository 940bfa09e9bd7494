package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcleaner/internal/config"
	"mailcleaner/internal/models"
	"mailcleaner/internal/worker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Backend:         config.BackendBolt,
		BoltPath:        filepath.Join(dir, "app.db"),
		SettingsFile:    filepath.Join(dir, "settings.yaml"),
		Offline:         true,
		ScanConcurrency: 2,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNewWiresOfflineStack(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	ctx := context.Background()

	res := a.Validator.Validate(ctx, "jane@gmail.com", false)
	assert.True(t, res.IsValid)

	v, err := a.Intake.CheckSubscription(ctx, "test123@example.com", models.DefaultSettings())
	require.NoError(t, err)
	assert.False(t, v.Allowed)

	sub := &models.Subscriber{Email: "jane@gmail.com", Status: models.SubscriberConfirmed}
	require.NoError(t, a.Store.AddSubscriber(ctx, sub))
	out, err := a.Scanner.Run(ctx, models.ScanManual, models.DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeCompleted, out.Outcome)
	assert.Equal(t, 1, out.Summary.Processed)
}

func TestSettingsFileFeedsRules(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.SettingsFile, []byte("disposable_domains: [gmail.com]\n"), 0o644))
	a := newTestApp(t, cfg)

	res := a.Validator.Validate(context.Background(), "jane@gmail.com", false)
	assert.Contains(t, res.Warnings, models.WarnDisposable)
}

func TestSchedulerRegistersJobs(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	sched := a.Scheduler()

	var names []string
	for _, j := range sched.Jobs() {
		names = append(names, j.Name)
	}
	assert.Equal(t, []string{worker.JobHealth, worker.JobPopulate, worker.JobRevalidation, worker.JobScan}, names)

	ev, err := sched.Trigger(context.Background(), worker.JobRevalidation)
	require.NoError(t, err)
	assert.Equal(t, string(models.OutcomeCompleted), ev.Outcome)
	assert.Equal(t, "No emails in queue to process", ev.Message)
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = "mysql"
	_, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.Error(t, err)
}
