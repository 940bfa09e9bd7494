package models

import (
	"strings"
	"time"
)

// Settings is an immutable snapshot taken once per invocation.
type Settings struct {
	MinimumScore              int           `yaml:"minimum_score" json:"minimum_score"`
	SubscriptionMinimumScore  int           `yaml:"subscription_minimum_score" json:"subscription_minimum_score"`
	EnableDeepValidation      bool          `yaml:"enable_deep_validation" json:"enable_deep_validation"`
	BatchSize                 int           `yaml:"batch_size" json:"batch_size"`
	ScoreImprovementThreshold int           `yaml:"score_improvement_threshold" json:"score_improvement_threshold"`
	ManualReviewThreshold     int           `yaml:"manual_review_threshold" json:"manual_review_threshold"`
	MaxAgeDays                int           `yaml:"max_age_days" json:"max_age_days"`
	WhitelistDomains          []string      `yaml:"whitelist_domains,omitempty" json:"whitelist_domains"`
	RevalidationEnabled       bool          `yaml:"revalidation_enabled" json:"revalidation_enabled"`
	LogRetentionDays          int           `yaml:"log_retention_days" json:"log_retention_days"`
	SMTPTimeout               time.Duration `yaml:"smtp_timeout" json:"smtp_timeout"`
	ScanPageSize              int           `yaml:"scan_page_size" json:"scan_page_size"`
	PauseEvery                int           `yaml:"pause_every" json:"pause_every"`
	Pause                     time.Duration `yaml:"pause" json:"pause"`
	DisposableDomains         []string      `yaml:"disposable_domains,omitempty" json:"disposable_domains"`
	NotifyRecipients          []string      `yaml:"notify_recipients,omitempty" json:"notify_recipients"`
}

func DefaultSettings() Settings {
	return Settings{
		MinimumScore:              50,
		SubscriptionMinimumScore:  25,
		BatchSize:                 100,
		ScoreImprovementThreshold: 15,
		ManualReviewThreshold:     10,
		MaxAgeDays:                90,
		RevalidationEnabled:       true,
		LogRetentionDays:          30,
		SMTPTimeout:               15 * time.Second,
		ScanPageSize:              100,
		PauseEvery:                50,
		Pause:                     time.Second,
	}
}

// Whitelisted reports whether domain is on the admin whitelist.
func (s Settings) Whitelisted(domain string) bool {
	domain = strings.ToLower(strings.TrimSpace(domain))
	for _, d := range s.WhitelistDomains {
		if strings.EqualFold(strings.TrimSpace(d), domain) {
			return true
		}
	}
	return false
}

// SubscriberStatus values used by the subscriber store.
const (
	SubscriberConfirmed    = "confirmed"
	SubscriberUnconfirmed  = "unconfirmed"
	SubscriberUnsubscribed = "unsubscribed"
)

type Subscriber struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Lock is a named mutual-exclusion record with a time-to-live.
type Lock struct {
	Name       string        `json:"name"`
	Owner      string        `json:"owner"`
	AcquiredAt time.Time     `json:"acquired_at"`
	TTL        time.Duration `json:"ttl"`
}

// Expired reports whether the lock outlived its TTL at now.
func (l *Lock) Expired(now time.Time) bool {
	return now.Sub(l.AcquiredAt) >= l.TTL
}

// Age is how long the lock has been held at now.
func (l *Lock) Age(now time.Time) time.Duration {
	return now.Sub(l.AcquiredAt)
}
