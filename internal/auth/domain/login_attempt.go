package domain

import "time"

type FailureReason string

const (
	ReasonInvalidCredentials FailureReason = "invalid_credentials"
	ReasonAccountLocked      FailureReason = "account_locked"
	ReasonAccountDeactivated FailureReason = "account_deactivated"
	ReasonPasswordExpired    FailureReason = "password_expired"
	ReasonMFAFailed          FailureReason = "mfa_failed"
)

// LoginAttempt is one terminal authentication outcome. Rows are never
// updated.
type LoginAttempt struct {
	ID            string
	UserID        *string // nil when the identifier did not resolve
	Identifier    string  // as submitted
	IPAddress     string
	UserAgent     *string
	Success       bool
	FailureReason *FailureReason
	CreatedAt     time.Time
}

// LoginAttemptFilter narrows a ledger query. Zero fields do not filter.
type LoginAttemptFilter struct {
	UserID      string
	Identifier  string
	Since       time.Time
	OnlyFailure bool
	Limit       int
}
