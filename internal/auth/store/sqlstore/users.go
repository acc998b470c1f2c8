package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
)

type usersRepo struct {
	conn
}

const userColumns = `id, username, email, password_hash, mfa_enabled, mfa_secret,
	failed_login_attempts, locked_until, last_login_at, last_login_ip,
	password_changed_at, is_active, deleted_at, created_at, updated_at`

func scanUser(row scanner) (domain.User, error) {
	var (
		u                        domain.User
		secret, lastIP           sql.NullString
		lockedUntil, lastLoginAt sql.NullTime
		deletedAt                sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.MFAEnabled, &secret,
		&u.FailedLoginAttempts, &lockedUntil, &lastLoginAt, &lastIP,
		&u.PasswordChangedAt, &u.Active, &deletedAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return domain.User{}, mapNotFound(err)
	}
	u.MFASecret = stringPtr(secret)
	u.LastLoginIP = stringPtr(lastIP)
	u.LockedUntil = timePtr(lockedUntil)
	u.LastLoginAt = timePtr(lastLoginAt)
	u.DeletedAt = timePtr(deletedAt)
	u.PasswordChangedAt = u.PasswordChangedAt.UTC()
	u.CreatedAt = u.CreatedAt.UTC()
	u.UpdatedAt = u.UpdatedAt.UTC()
	return u, nil
}

func (r *usersRepo) GetUserByID(ctx context.Context, id string) (domain.User, error) {
	return scanUser(r.queryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ? AND deleted_at IS NULL`, id))
}

func (r *usersRepo) GetUserByIdentifier(ctx context.Context, identifier string) (domain.User, error) {
	email := strings.ToLower(identifier)
	return scanUser(r.queryRow(ctx,
		`SELECT `+userColumns+` FROM users
		WHERE (username = ? OR email = ?) AND deleted_at IS NULL
		ORDER BY CASE WHEN username = ? THEN 0 ELSE 1 END
		LIMIT 1`,
		identifier, email, identifier))
}

func (r *usersRepo) CreateUser(ctx context.Context, u domain.User) error {
	_, err := r.exec(ctx,
		`INSERT INTO users (id, username, email, password_hash, mfa_enabled, mfa_secret,
			failed_login_attempts, password_changed_at, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		u.ID, u.Username, strings.ToLower(u.Email), u.PasswordHash, u.MFAEnabled, nullString(u.MFASecret),
		utc(u.PasswordChangedAt), u.Active, utc(u.CreatedAt), utc(u.UpdatedAt))
	return r.mapWrite("create user", err)
}

func (r *usersRepo) IncrementFailedLogins(ctx context.Context, userID string, now time.Time) (int, error) {
	var n int
	err := r.queryRow(ctx,
		`UPDATE users SET failed_login_attempts = failed_login_attempts + 1, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
		RETURNING failed_login_attempts`,
		utc(now), userID).Scan(&n)
	if err != nil {
		return 0, mapNotFound(err)
	}
	return n, nil
}

func (r *usersRepo) SetLockedUntil(ctx context.Context, userID string, until *time.Time, now time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET locked_until = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		nullTime(until), utc(now), userID))
}

func (r *usersRepo) RecordSuccessfulLogin(ctx context.Context, userID, ip string, at time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL,
			last_login_at = ?, last_login_ip = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		utc(at), nullString(&ip), utc(at), userID))
}

func (r *usersRepo) ResetLockout(ctx context.Context, userID string, now time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET failed_login_attempts = 0, locked_until = NULL, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		utc(now), userID))
}

func (r *usersRepo) UpdatePassword(ctx context.Context, userID, hash string, changedAt time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET password_hash = ?, password_changed_at = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		hash, utc(changedAt), utc(changedAt), userID))
}

func (r *usersRepo) UpdatePasswordHash(ctx context.Context, userID, hash string, now time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		hash, utc(now), userID))
}

func (r *usersRepo) SetMFASecret(ctx context.Context, userID, secret string, now time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET mfa_secret = ?, mfa_enabled = FALSE, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		secret, utc(now), userID))
}

func (r *usersRepo) EnableMFA(ctx context.Context, userID string, now time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET mfa_enabled = TRUE, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL AND mfa_secret IS NOT NULL`,
		utc(now), userID))
}

func (r *usersRepo) DisableMFA(ctx context.Context, userID string, now time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET mfa_enabled = FALSE, mfa_secret = NULL, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		utc(now), userID))
}

func (r *usersRepo) SetActive(ctx context.Context, userID string, active bool, now time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET is_active = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		active, utc(now), userID))
}

func (r *usersRepo) SoftDelete(ctx context.Context, userID string, now time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE users SET deleted_at = ?, is_active = FALSE, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL`,
		utc(now), utc(now), userID))
}

func (r *usersRepo) IsEmpty(ctx context.Context) (bool, error) {
	var n int64
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return false, err
	}
	return n == 0, nil
}
