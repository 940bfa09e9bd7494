package validator

import "mailcleaner/internal/models"

const (
	BaseScore = 50

	WeightSyntax        = 10
	PenaltyFakePattern  = 30
	PenaltyDisposable   = 25
	PenaltyTypo         = 10
	WeightDomainValid   = 20
	PenaltyDomainBroken = 20

	WeightTrusted   = 20
	WeightCorporate = 15
	WeightBusiness  = 5

	// Damping beyond the first error and the third warning.
	PenaltyExtraError   = 3
	PenaltyExtraWarning = 1

	// Deep stage. A full 220/250/250/250 conversation is worth 20 in total.
	WeightSMTPTimeout   = 5
	WeightSMTPRefused   = 3
	WeightSMTPHelo      = 5
	WeightSMTPMail      = 5
	WeightSMTPRcpt      = 10
	WeightSMTPTemporary = 5
	PenaltyNoMX         = 20

	ThresholdTrusted        = 35
	ThresholdCorporate      = 40
	ThresholdBase           = 45
	ThresholdBusinessRelief = 5
	ThresholdDisposable     = 65
)

var rolePenalty = map[models.RoleCategory]int{
	models.RoleCritical:  25,
	models.RoleTechnical: 15,
	models.RoleBusiness:  5,
	models.RoleOther:     10,
}

var roleThresholdBump = map[models.RoleCategory]int{
	models.RoleCritical:  20,
	models.RoleTechnical: 15,
	models.RoleBusiness:  5,
	models.RoleOther:     10,
}

// RolePenalty is the score deduction for a role category.
func RolePenalty(cat models.RoleCategory) int {
	return rolePenalty[cat]
}

// Threshold is the adaptive minimum score for the given signals.
func Threshold(sig models.Signals) int {
	var t int
	switch {
	case sig.Disposable:
		t = ThresholdDisposable
	case sig.TrustedProvider:
		t = ThresholdTrusted
	case sig.CorporateDomain:
		t = ThresholdCorporate
	default:
		t = ThresholdBase
		if sig.BusinessDomain {
			t -= ThresholdBusinessRelief
		}
	}
	return t + roleThresholdBump[sig.RoleCategory]
}

// DetermineValidity applies the validity rule: any non-transient error
// disqualifies, otherwise the score must reach the adaptive threshold.
func DetermineValidity(score int, errs []models.ErrorKind, sig models.Signals) (bool, int) {
	threshold := Threshold(sig)
	for _, e := range errs {
		if !e.Transient() {
			return false, threshold
		}
	}
	return score >= threshold, threshold
}

// Damping returns the (non-positive) adjustment for piled-up problems.
func Damping(errorCount, warningCount int) int {
	d := 0
	if errorCount > 1 {
		d -= (errorCount - 1) * PenaltyExtraError
	}
	if warningCount > 3 {
		d -= (warningCount - 3) * PenaltyExtraWarning
	}
	return d
}

func Clamp(score int) int {
	if score > 100 {
		return 100
	}
	if score < 0 {
		return 0
	}
	return score
}

func RiskLevelFor(score int) models.RiskLevel {
	switch {
	case score >= 80:
		return models.RiskLow
	case score >= 60:
		return models.RiskMedium
	case score >= 40:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

func ConfidenceFor(score int) models.Confidence {
	switch {
	case score >= 80:
		return models.ConfidenceHigh
	case score >= 60:
		return models.ConfidenceMedium
	case score >= 40:
		return models.ConfidenceLow
	default:
		return models.ConfidenceVeryLow
	}
}
