package models

import "time"

// ActionTaken labels what an audit entry records.
type ActionTaken string

const (
	ActionNone              ActionTaken = "none"
	ActionUnsubscribed      ActionTaken = "unsubscribed"
	ActionAutoUnsubscribed  ActionTaken = "auto_unsubscribed"
	ActionSubscriptionCheck ActionTaken = "subscription_check"
	ActionConfirmCheck      ActionTaken = "confirm_check"
	ActionBounced           ActionTaken = "bounced"
	ActionComplained        ActionTaken = "complained"
	ActionQueued            ActionTaken = "queued"
	ActionRevalidated       ActionTaken = "revalidated"
	ActionResubscribed      ActionTaken = "resubscribed"
	ActionManualReview      ActionTaken = "manual_review"
	ActionRollback          ActionTaken = "rollback"
	ActionError             ActionTaken = "error"
)

// AuditLogEntry is append-only. Only retention pruning or a full clear removes rows.
type AuditLogEntry struct {
	ID           int64         `json:"id"`
	SubscriberID int64         `json:"subscriber_id"`
	Email        string        `json:"email"`
	IsValid      bool          `json:"is_valid"`
	Score        int           `json:"score"`
	Errors       []ErrorKind   `json:"errors,omitempty"`
	Warnings     []WarningKind `json:"warnings,omitempty"`
	Action       ActionTaken   `json:"action_taken"`
	Reason       string        `json:"reason,omitempty"`
	OldStatus    string        `json:"old_status,omitempty"`
	NewStatus    string        `json:"new_status,omitempty"`
	OldScore     int           `json:"old_score,omitempty"`
	NewScore     int           `json:"new_score,omitempty"`
	QueueItemID  int64         `json:"queue_item_id,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// EntryFromResult builds the audit row for a validation outcome.
func EntryFromResult(subscriberID int64, res *ValidationResult, action ActionTaken) *AuditLogEntry {
	return &AuditLogEntry{
		SubscriberID: subscriberID,
		Email:        res.Email,
		IsValid:      res.IsValid,
		Score:        res.Score,
		Errors:       res.Errors,
		Warnings:     res.Warnings,
		Action:       action,
		CreatedAt:    res.CheckedAt,
	}
}

// AuditFilter narrows an audit listing. Zero values mean "any".
type AuditFilter struct {
	EmailContains string
	IsValid       *bool
	Action        ActionTaken
	From          time.Time
	To            time.Time
	Limit         int
	Offset        int
}

type AuditStats struct {
	Total        int     `json:"total"`
	Valid        int     `json:"valid"`
	Invalid      int     `json:"invalid"`
	LastSevenDay int     `json:"last_7_days"`
	AverageScore float64 `json:"average_score"`
}

// ScanType distinguishes operator-triggered scans from timer-triggered ones.
type ScanType string

const (
	ScanManual    ScanType = "manual"
	ScanScheduled ScanType = "scheduled"
)

// ScanSummary is written once per completed bulk scan.
type ScanSummary struct {
	ID           int64     `json:"id"`
	RunID        string    `json:"run_id"`
	Type         ScanType  `json:"type"`
	Processed    int       `json:"processed"`
	Invalid      int       `json:"invalid"`
	Unsubscribed int       `json:"unsubscribed"`
	Errors       int       `json:"errors"`
	Pruned       int64     `json:"pruned"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// SchedulerEvent is one entry of the worker's rolling event log.
type SchedulerEvent struct {
	ID         int64     `json:"id"`
	Job        string    `json:"job"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
