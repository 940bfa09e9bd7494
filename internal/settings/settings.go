// Package settings reads the runtime settings file. The file is re-read on
// every Snapshot, so an edit takes effect on the next batch run.
package settings

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"mailcleaner/internal/lookup"
	"mailcleaner/internal/models"
)

// FileProvider serves Settings from a YAML file. A missing file yields the
// defaults; keys absent from the file keep their default values.
type FileProvider struct {
	path   string
	logger *slog.Logger

	mu        sync.Mutex
	rules     *lookup.RuleSet
	rulesFrom []string
}

func NewFileProvider(path string, logger *slog.Logger) *FileProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileProvider{path: path, logger: logger.With("component", "settings")}
}

// Snapshot reads and validates the file.
func (p *FileProvider) Snapshot() (models.Settings, error) {
	s := models.DefaultSettings()
	if p.path == "" {
		return s, nil
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, fmt.Errorf("failed to read settings file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return models.DefaultSettings(), fmt.Errorf("failed to parse settings file: %w", err)
	}
	if err := Validate(s); err != nil {
		return models.DefaultSettings(), fmt.Errorf("invalid settings: %w", err)
	}
	return s, nil
}

// RuleSet returns the validator rules with the file's extra disposable
// domains. The set is rebuilt only when that list changes. A broken file
// falls back to the built-in rules.
func (p *FileProvider) RuleSet() *lookup.RuleSet {
	s, err := p.Snapshot()
	if err != nil {
		p.logger.Warn("using built-in rules", "error", err)
	}
	extra := normalizeDomains(s.DisposableDomains)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rules == nil || !slices.Equal(extra, p.rulesFrom) {
		p.rules = lookup.NewRuleSet(extra...)
		p.rulesFrom = extra
	}
	return p.rules
}

// Save writes s back to the file.
func (p *FileProvider) Save(s models.Settings) error {
	if err := Validate(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := os.WriteFile(p.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}
	p.logger.Info("settings saved", "path", p.path)
	return nil
}

// Validate checks ranges.
func Validate(s models.Settings) error {
	for name, v := range map[string]int{
		"minimum_score":              s.MinimumScore,
		"subscription_minimum_score": s.SubscriptionMinimumScore,
	} {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %d", name, v)
		}
	}
	switch {
	case s.BatchSize <= 0:
		return fmt.Errorf("batch_size must be positive")
	case s.ScanPageSize <= 0:
		return fmt.Errorf("scan_page_size must be positive")
	case s.MaxAgeDays <= 0:
		return fmt.Errorf("max_age_days must be positive")
	case s.ScoreImprovementThreshold < s.ManualReviewThreshold:
		return fmt.Errorf("score_improvement_threshold (%d) must not be below manual_review_threshold (%d)",
			s.ScoreImprovementThreshold, s.ManualReviewThreshold)
	case s.ManualReviewThreshold < 0:
		return fmt.Errorf("manual_review_threshold must not be negative")
	case s.LogRetentionDays < 0:
		return fmt.Errorf("log_retention_days must not be negative")
	case s.PauseEvery < 0 || s.Pause < 0:
		return fmt.Errorf("pause_every and pause must not be negative")
	case s.SMTPTimeout <= 0:
		return fmt.Errorf("smtp_timeout must be positive")
	}
	return nil
}

func normalizeDomains(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		d = strings.ToLower(strings.TrimSpace(d))
		if d != "" {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
