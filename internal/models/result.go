package models

import "time"

// ErrorKind is a hard validation problem produced by one pipeline stage.
type ErrorKind string

// WarningKind is a soft validation problem.
type WarningKind string

const (
	ErrInvalidSyntax  ErrorKind = "invalid_syntax"
	ErrFakePattern    ErrorKind = "fake_pattern"
	ErrDomainNotFound ErrorKind = "domain_not_found"
	ErrNoMX           ErrorKind = "no_mx"
	ErrSMTPConnect    ErrorKind = "smtp_connect_failed"
	ErrSMTPRecipient  ErrorKind = "smtp_recipient_rejected"
)

// Transient reports whether the error describes a network condition rather
// than a property of the address. Transient errors never disqualify.
func (k ErrorKind) Transient() bool {
	return k == ErrSMTPConnect
}

const (
	WarnDisposable    WarningKind = "disposable_domain"
	WarnRoleAccount   WarningKind = "role_account"
	WarnTypoDomain    WarningKind = "typo_domain"
	WarnDNSTimeout    WarningKind = "dns_timeout"
	WarnSMTPTimeout   WarningKind = "smtp_timeout"
	WarnSMTPRefused   WarningKind = "smtp_refused"
	WarnSMTPGreeting  WarningKind = "smtp_bad_greeting"
	WarnSMTPHandshake WarningKind = "smtp_handshake_rejected"
	WarnSMTPTemporary WarningKind = "smtp_temporary_failure"
)

// Check names used as keys in ValidationResult.Details.
const (
	CheckSyntax      = "syntax"
	CheckFakePattern = "fake_pattern"
	CheckDisposable  = "disposable"
	CheckRole        = "role"
	CheckTypo        = "typo"
	CheckDomain      = "domain"
	CheckReputation  = "reputation"
	CheckDamping     = "damping"
	CheckDeep        = "deep"
)

// RoleCategory classifies a role-based local part.
type RoleCategory string

const (
	RoleNone      RoleCategory = ""
	RoleCritical  RoleCategory = "critical"
	RoleBusiness  RoleCategory = "business"
	RoleTechnical RoleCategory = "technical"
	RoleOther     RoleCategory = "other"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

type Confidence string

const (
	ConfidenceHigh    Confidence = "high"
	ConfidenceMedium  Confidence = "medium"
	ConfidenceLow     Confidence = "low"
	ConfidenceVeryLow Confidence = "very_low"
)

// Connection types reported by the deep SMTP stage.
const (
	ConnectionTimeout  = "timeout"
	ConnectionRefused  = "refused"
	ConnectionError    = "error"
	ConnectionComplete = "complete"
)

// Check is the outcome of one pipeline stage.
type Check struct {
	Passed  bool              `json:"passed"`
	Skipped bool              `json:"skipped,omitempty"`
	Delta   int               `json:"delta"`
	Note    string            `json:"note,omitempty"`
	Data    map[string]string `json:"data,omitempty"`
}

// Signals are the flags the adaptive threshold depends on.
type Signals struct {
	TrustedProvider bool         `json:"trusted_provider"`
	CorporateDomain bool         `json:"corporate_domain"`
	BusinessDomain  bool         `json:"business_domain"`
	Disposable      bool         `json:"disposable"`
	RoleCategory    RoleCategory `json:"role_category,omitempty"`
	DomainValid     bool         `json:"domain_valid"`
}

// ValidationResult is produced once per email and not modified afterwards.
type ValidationResult struct {
	Email      string           `json:"email"`
	Domain     string           `json:"domain"`
	Score      int              `json:"score"`
	IsValid    bool             `json:"is_valid"`
	Threshold  int              `json:"threshold"`
	Errors     []ErrorKind      `json:"errors"`
	Warnings   []WarningKind    `json:"warnings"`
	Details    map[string]Check `json:"details"`
	Signals    Signals          `json:"signals"`
	RiskLevel  RiskLevel        `json:"risk_level"`
	Confidence Confidence       `json:"confidence"`
	Suggestion string           `json:"suggestion,omitempty"`
	Deep       bool             `json:"deep"`
	CheckedAt  time.Time        `json:"checked_at"`
	Duration   string           `json:"duration,omitempty"`
}

// HasError reports whether kind appears in the result's errors.
func (r *ValidationResult) HasError(kind ErrorKind) bool {
	for _, e := range r.Errors {
		if e == kind {
			return true
		}
	}
	return false
}

// HasWarning reports whether kind appears in the result's warnings.
func (r *ValidationResult) HasWarning(kind WarningKind) bool {
	for _, w := range r.Warnings {
		if w == kind {
			return true
		}
	}
	return false
}
