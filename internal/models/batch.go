package models

// Outcome is how a batch run ended. Only persistence failures are Go errors;
// everything here is a normal result.
type Outcome string

const (
	OutcomeCompleted     Outcome = "completed"
	OutcomeSkippedLocked Outcome = "skipped_locked"
	OutcomeDisabled      Outcome = "disabled"
	OutcomeFailed        Outcome = "failed"

	// OutcomeSkipped means the job had nothing worth doing this time.
	OutcomeSkipped Outcome = "skipped"
)
