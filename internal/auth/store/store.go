package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. It exposes sub-repositories so a Tx can hand out the same
// repositories bound to the transaction, and so nobody opens a transaction
// inside a transaction by accident.
type Store interface {
	Users() Users
	Roles() Roles
	RefreshTokens() RefreshTokens
	LoginAttempts() LoginAttempts
	PasswordHistory() PasswordHistory
	SigningKeys() SigningKeys

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed. A transient
	// conflict reported by the driver is retried exactly once.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Users owns the credential rows. Every lookup ignores soft-deleted users.
type Users interface {
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// GetUserByIdentifier matches the username exactly or the email
	// case-insensitively.
	GetUserByIdentifier(ctx context.Context, identifier string) (domain.User, error)

	// CreateUser returns ErrAlreadyExists when username or email is taken.
	CreateUser(ctx context.Context, u domain.User) error

	// IncrementFailedLogins bumps the counter in a single statement and
	// returns the value after the increment.
	IncrementFailedLogins(ctx context.Context, userID string, now time.Time) (int, error)

	// SetLockedUntil sets or clears the lock without touching the counter.
	SetLockedUntil(ctx context.Context, userID string, until *time.Time, now time.Time) error

	// RecordSuccessfulLogin clears counter and lock and stamps last login.
	RecordSuccessfulLogin(ctx context.Context, userID, ip string, at time.Time) error

	// ResetLockout clears counter and lock.
	ResetLockout(ctx context.Context, userID string, now time.Time) error

	// UpdatePassword replaces the hash and stamps password_changed_at.
	UpdatePassword(ctx context.Context, userID, hash string, changedAt time.Time) error

	// UpdatePasswordHash replaces the hash only (rehash on login).
	UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error

	// SetMFASecret stores a pending secret and leaves MFA disabled.
	SetMFASecret(ctx context.Context, userID, secret string, now time.Time) error

	EnableMFA(ctx context.Context, userID string, now time.Time) error

	// DisableMFA clears both the flag and the secret.
	DisableMFA(ctx context.Context, userID string, now time.Time) error

	SetActive(ctx context.Context, userID string, active bool, now time.Time) error
	SoftDelete(ctx context.Context, userID string, now time.Time) error

	IsEmpty(ctx context.Context) (bool, error)
}

// Roles covers roles, permissions and both join tables.
type Roles interface {
	CreateRole(ctx context.Context, r domain.Role) error
	GetRoleByName(ctx context.Context, name string) (domain.Role, error)
	ListRoles(ctx context.Context) ([]domain.Role, error)

	CreatePermission(ctx context.Context, p domain.Permission) error
	GetPermissionByName(ctx context.Context, name string) (domain.Permission, error)
	ListPermissions(ctx context.Context) ([]domain.Permission, error)

	// GrantPermission and AssignRole are idempotent.
	GrantPermission(ctx context.Context, roleID, permissionID string) error
	RevokePermission(ctx context.Context, roleID, permissionID string) error
	AssignRole(ctx context.Context, userID, roleID string) error
	UnassignRole(ctx context.Context, userID, roleID string) error

	// ResolveUserPermissions unions the permissions of every active role of
	// the user in one join query.
	ResolveUserPermissions(ctx context.Context, userID string) (domain.ResolvedPermissions, error)

	IsEmpty(ctx context.Context) (bool, error)
}

type RefreshTokens interface {
	CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error

	// GetRefreshTokenByHash returns the row whatever its state.
	GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error)

	// RevokeRefreshToken marks the row revoked. Already revoked or unknown
	// hashes are not an error; revoked reports whether a row changed.
	RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (revoked bool, err error)

	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)

	// DeleteExpiredRefreshTokens is housekeeping.
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error)
}

// LoginAttempts is the append-only ledger.
type LoginAttempts interface {
	RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error

	// ListLoginAttempts returns matching rows newest first.
	ListLoginAttempts(ctx context.Context, f domain.LoginAttemptFilter) ([]domain.LoginAttempt, error)

	CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error)

	// DeleteLoginAttemptsBefore is retention pruning, called by housekeeping only.
	DeleteLoginAttemptsBefore(ctx context.Context, before time.Time) (int64, error)
}

type PasswordHistory interface {
	AddPasswordHistory(ctx context.Context, e domain.PasswordHistoryEntry) error

	// ListRecentPasswordHistory returns at most limit entries, newest first.
	ListRecentPasswordHistory(ctx context.Context, userID string, limit int) ([]domain.PasswordHistoryEntry, error)

	// PrunePasswordHistory keeps the newest keep entries of the user.
	PrunePasswordHistory(ctx context.Context, userID string, keep int) (int64, error)
}

type SigningKeys interface {
	CreateSigningKey(ctx context.Context, key domain.SigningKey) error
	GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error)

	// ListSigningKeys returns keys not expired at now, newest first, retired
	// ones included.
	ListSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error)

	// RetireSigningKey stops a key from signing; it keeps verifying until
	// expiresAt.
	RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error

	DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error)
}
