package revalidation

import (
	"fmt"

	"mailcleaner/internal/models"
)

// Decision is what the policy concluded for one address.
type Decision struct {
	Action models.RevalidationAction
	Reason string
	Notes  string
}

// Decide applies the first matching rule: a valid address that improved by
// at least ScoreImprovementThreshold is resubscribed; a smaller improvement
// of at least ManualReviewThreshold, or any qualitative improvement, goes to
// manual review; everything else stays unsubscribed.
func Decide(res *models.ValidationResult, improvement int, s models.Settings) Decision {
	switch {
	case res.IsValid && improvement >= s.ScoreImprovementThreshold:
		return Decision{
			Action: models.RevalResubscribed,
			Reason: models.ReasonSignificantImprovement,
			Notes:  fmt.Sprintf("Score improved by %d points and now passes validation", improvement),
		}
	case improvement >= s.ManualReviewThreshold:
		return Decision{
			Action: models.RevalManualReview,
			Reason: models.ReasonModerateImprovement,
			Notes:  fmt.Sprintf("Score improved by %d points but requires manual review", improvement),
		}
	case qualitative(res):
		return Decision{
			Action: models.RevalManualReview,
			Reason: models.ReasonQualitativeImprovement,
			Notes:  "Significant qualitative improvements detected",
		}
	}
	return Decision{
		Action: models.RevalKeptUnsubscribed,
		Reason: models.ReasonInsufficientImprovement,
		Notes:  fmt.Sprintf("Score improvement of %d points insufficient for resubscription", improvement),
	}
}

func qualitative(res *models.ValidationResult) bool {
	return res.Signals.TrustedProvider || res.Signals.CorporateDomain || len(res.Errors) == 0
}

// ImprovementFactors describes what changed between the rejection and now.
func ImprovementFactors(oldErrors []models.ErrorKind, res *models.ValidationResult) []string {
	var out []string
	if len(res.Errors) < len(oldErrors) {
		out = append(out, fmt.Sprintf("Errors reduced from %d to %d", len(oldErrors), len(res.Errors)))
	}
	if res.Signals.TrustedProvider {
		out = append(out, "Now recognized as trusted provider")
	}
	if res.Signals.CorporateDomain {
		out = append(out, "Now recognized as corporate domain")
	}
	return out
}
