package service

import (
	"errors"
	"strings"
)

// Caller-visible outcomes of the core operations. None of them is retried.
var (
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrAccountLocked      = errors.New("account_locked")
	ErrAccountDeactivated = errors.New("account_deactivated")
	ErrPasswordExpired    = errors.New("password_expired")
	ErrMFAInvalid         = errors.New("mfa_invalid")
	ErrPolicyViolation    = errors.New("policy_violation")
	ErrTokenExpired       = errors.New("token_expired")
	ErrTokenRevoked       = errors.New("token_revoked")
	ErrTokenMalformed     = errors.New("token_malformed")
	ErrPermissionDenied   = errors.New("permission_denied")
)

// Administrative errors.
var (
	ErrMFANotEnrolled    = errors.New("mfa_not_enrolled")
	ErrMFAAlreadyEnabled = errors.New("mfa_already_enabled")
	ErrMFANotEnabled     = errors.New("mfa_not_enabled")
	ErrUserExists        = errors.New("user_exists")
	ErrUserNotFound      = errors.New("user_not_found")
	ErrRoleNotFound      = errors.New("role_not_found")
	ErrInvalidRequest    = errors.New("invalid_request")
	ErrKeyNotFound       = errors.New("key_not_found")
	ErrLastSigningKey    = errors.New("last_signing_key")
)

// PolicyViolationError lists every password rule a candidate broke.
type PolicyViolationError struct {
	Reasons []string
}

func (e *PolicyViolationError) Error() string {
	return ErrPolicyViolation.Error() + ": " + strings.Join(e.Reasons, "; ")
}

func (e *PolicyViolationError) Is(target error) bool {
	return target == ErrPolicyViolation
}
