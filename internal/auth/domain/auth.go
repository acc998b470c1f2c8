package domain

import "time"

// ClientInfo describes where a request came from.
type ClientInfo struct {
	IPAddress string
	UserAgent string
}

// Credentials is the input of one authenticate call. MFACode is empty on the
// first leg of an MFA login.
type Credentials struct {
	Identifier string
	Password   string
	MFACode    string
}

type AuthOutcome string

const (
	OutcomeAuthenticated AuthOutcome = "authenticated"
	OutcomeMFARequired   AuthOutcome = "mfa_required"
)

// AuthResult is the non-error result of authenticate. Tokens and Permissions are
// only set when Outcome is OutcomeAuthenticated.
type AuthResult struct {
	Outcome     AuthOutcome
	UserID      string
	Tokens      *TokenPair
	Permissions ResolvedPermissions
}

// LockStatus is the administrative view of a user's lockout state.
type LockStatus struct {
	UserID              string     `json:"user_id"`
	Locked              bool       `json:"locked"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	RecentFailures      int        `json:"recent_failures"`
}
