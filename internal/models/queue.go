package models

import "time"

type QueueStatus string

const (
	QueuePending      QueueStatus = "pending"
	QueueProcessing   QueueStatus = "processing"
	QueueCompleted    QueueStatus = "completed"
	QueueFailed       QueueStatus = "failed"
	QueueManualReview QueueStatus = "manual_review"
)

// Active statuses take part in the one-entry-per-subscriber rule. An item
// parked in manual review still holds its subscriber.
func (s QueueStatus) Active() bool {
	switch s {
	case QueuePending, QueueProcessing, QueueCompleted, QueueManualReview:
		return true
	}
	return false
}

// MaxQueueAttempts is how many claims an item gets before it stays failed.
const MaxQueueAttempts = 3

// QueueItem is a revalidation candidate.
type QueueItem struct {
	ID                   int64       `json:"id"`
	SubscriberID         int64       `json:"subscriber_id"`
	Email                string      `json:"email"`
	OriginalValidationID int64       `json:"original_validation_id"`
	OriginalScore        int         `json:"original_score"`
	OriginalRejectedAt   time.Time   `json:"original_rejected_at"`
	Status               QueueStatus `json:"status"`
	Priority             int         `json:"priority"`
	Attempts             int         `json:"attempts"`
	CreatedAt            time.Time   `json:"created_at"`
	ClaimedAt            *time.Time  `json:"claimed_at,omitempty"`
	ProcessedAt          *time.Time  `json:"processed_at,omitempty"`
	Notes                string      `json:"notes,omitempty"`
}

type QueueStats struct {
	Total        int     `json:"total"`
	Pending      int     `json:"pending"`
	Processing   int     `json:"processing"`
	Completed    int     `json:"completed"`
	Failed       int     `json:"failed"`
	ManualReview int     `json:"manual_review"`
	AvgPriority  float64 `json:"avg_priority"`
}

// RevalidationAction is the decision taken for a processed queue item.
type RevalidationAction string

const (
	RevalResubscribed     RevalidationAction = "resubscribed"
	RevalKeptUnsubscribed RevalidationAction = "kept_unsubscribed"
	RevalManualReview     RevalidationAction = "manual_review"
	RevalWhitelisted      RevalidationAction = "whitelisted"
	RevalRolledBack       RevalidationAction = "rolled_back"
)

// Decision reasons.
const (
	ReasonWhitelisted             = "whitelisted"
	ReasonSignificantImprovement  = "significant_improvement"
	ReasonModerateImprovement     = "moderate_improvement"
	ReasonQualitativeImprovement  = "qualitative_improvement"
	ReasonInsufficientImprovement = "insufficient_improvement"
	ReasonManualApproval          = "manual_approval"
	ReasonManualRejection         = "manual_rejection"
)

// RevalidationResult is one processed queue item.
type RevalidationResult struct {
	ID                 int64              `json:"id"`
	QueueItemID        int64              `json:"queue_item_id"`
	SubscriberID       int64              `json:"subscriber_id"`
	Email              string             `json:"email"`
	OldScore           int                `json:"old_score"`
	NewScore           int                `json:"new_score"`
	OldErrors          []ErrorKind        `json:"old_errors,omitempty"`
	NewValidation      *ValidationResult  `json:"new_validation,omitempty"`
	Action             RevalidationAction `json:"action"`
	Reason             string             `json:"reason"`
	Confidence         Confidence         `json:"confidence"`
	ImprovementFactors []string           `json:"improvement_factors,omitempty"`
	Notes              string             `json:"notes,omitempty"`
	ProcessedBy        string             `json:"processed_by"`
	CreatedAt          time.Time          `json:"created_at"`
}

// PopulateCriteria selects revalidation candidates.
type PopulateCriteria struct {
	MaxAgeDays       int  `json:"max_age_days"`
	MinOriginalScore int  `json:"min_original_score"`
	MaxOriginalScore int  `json:"max_original_score"`
	Limit            int  `json:"limit"`
	ForceRepopulate  bool `json:"force_repopulate"`
}

// DefaultPopulateCriteria mirrors what the admin screen pre-fills.
func DefaultPopulateCriteria() PopulateCriteria {
	return PopulateCriteria{
		MaxAgeDays:       90,
		MinOriginalScore: 0,
		MaxOriginalScore: 60,
		Limit:            1000,
	}
}
