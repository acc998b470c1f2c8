package authsdk

import (
	"time"

	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
)

// ============================================================================
// Authentication
// ============================================================================

// LoginRequest is the body of POST /v1/auth/login. Identifier is a username
// or an email address. MFACode is sent on the second leg of an MFA login.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
	MFACode    string `json:"mfa_code,omitempty"`
}

// TokenResponse is returned by login and refresh.
type TokenResponse struct {
	AccessToken string `json:"access_token,omitempty"`

	// RefreshToken is only present on login, and on refresh when the server
	// rotates refresh tokens.
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`

	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expires_in,omitempty"`

	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// LoginResponse carries either tokens or an MFA challenge.
type LoginResponse struct {
	MFARequired bool `json:"mfa_required,omitempty"`
	TokenResponse
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// ============================================================================
// Users
// ============================================================================

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserResponse is the public view of a user.
type UserResponse struct {
	ID                string     `json:"id"`
	Username          string     `json:"username"`
	Email             string     `json:"email"`
	Active            bool       `json:"active"`
	MFAEnabled        bool       `json:"mfa_enabled"`
	PasswordChangedAt time.Time  `json:"password_changed_at"`
	LastLoginAt       *time.Time `json:"last_login_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// MeResponse is returned by GET /v1/me.
type MeResponse struct {
	UserResponse
	Roles       []string `json:"roles"`
	Permissions []string `json:"permissions"`
}

type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type SetActiveRequest struct {
	Active bool `json:"active"`
}

type RoleAssignmentRequest struct {
	Role string `json:"role"`
}

// LockStatusResponse is the administrative view of a user's lockout state.
type LockStatusResponse struct {
	UserID              string     `json:"user_id"`
	Locked              bool       `json:"locked"`
	LockedUntil         *time.Time `json:"locked_until,omitempty"`
	FailedLoginAttempts int        `json:"failed_login_attempts"`
	RecentFailures      int        `json:"recent_failures"`
}

// LoginAttemptResponse is one row of the login ledger.
type LoginAttemptResponse struct {
	ID            string    `json:"id"`
	UserID        *string   `json:"user_id,omitempty"`
	Identifier    string    `json:"identifier"`
	IPAddress     string    `json:"ip_address"`
	UserAgent     *string   `json:"user_agent,omitempty"`
	Success       bool      `json:"success"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ============================================================================
// MFA
// ============================================================================

// MFAEnrollResponse is shown once. QRCode is a data:image/png;base64 URL.
type MFAEnrollResponse struct {
	Secret          string `json:"secret"`
	ProvisioningURI string `json:"provisioning_uri"`
	QRCode          string `json:"qr_code"`
	Issuer          string `json:"issuer"`
	Account         string `json:"account"`
}

type MFACodeRequest struct {
	Code string `json:"code"`
}

// MFADisableRequest requires both factors.
type MFADisableRequest struct {
	Password string `json:"password"`
	Code     string `json:"code"`
}

// ============================================================================
// Roles
// ============================================================================

type RoleResponse struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"display_name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions"`
}

// ============================================================================
// Bootstrap
// ============================================================================

// BootstrapRequest seeds an empty service with the default catalogue and a
// first administrator.
type BootstrapRequest struct {
	AdminUsername string `json:"admin_username"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

type BootstrapResponse struct {
	AdminUserID   string `json:"admin_user_id"`
	AdminUsername string `json:"admin_username"`
}

// ============================================================================
// Signing keys
// ============================================================================

type RotateKeyRequest struct {
	RetireExisting bool `json:"retire_existing"`
}

type SigningKeyInfo struct {
	Kid       string     `json:"kid"`
	Algorithm string     `json:"alg"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type RotateKeyResponse struct {
	NewKey      SigningKeyInfo   `json:"new_key"`
	RetiredKeys []SigningKeyInfo `json:"retired_keys,omitempty"`
	ActiveKeys  int              `json:"active_keys"`
}

// JWKSResponse is the public key set served at /.well-known/jwks.json.
type JWKSResponse = jwtx.JWKS

// ============================================================================
// Health
// ============================================================================

type HealthResponse struct {
	Status  string        `json:"status"`
	Uptime  string        `json:"uptime"`
	Version string        `json:"version"`
	Checks  *HealthChecks `json:"checks,omitempty"`
}

type HealthChecks struct {
	Database string `json:"database"`
	Signer   string `json:"signer"`
}
