package domain

import "time"

// User is the credential record. Lockout, MFA and password-age state live on
// the same row so they can be changed atomically.
type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string // PHC argon2id or bcrypt
	MFAEnabled          bool
	MFASecret           *string // base32, present while enrolled or pending activation
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         *string
	PasswordChangedAt   time.Time
	Active              bool
	DeletedAt           *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// IsLocked reports whether a lock is in force at now. A lock in the past is
// not a lock, whatever the residual counter says.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// PasswordExpired reports whether maxAge has elapsed since the last password
// change. A non-positive maxAge disables expiry.
func (u *User) PasswordExpired(now time.Time, maxAge time.Duration) bool {
	if maxAge <= 0 {
		return false
	}
	return now.Sub(u.PasswordChangedAt) > maxAge
}

// HasPendingMFA is true between enroll and activate.
func (u *User) HasPendingMFA() bool {
	return !u.MFAEnabled && u.MFASecret != nil && *u.MFASecret != ""
}
