package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
)

type refreshTokensRepo struct {
	conn
}

func (r *refreshTokensRepo) CreateRefreshToken(ctx context.Context, t domain.RefreshToken) error {
	_, err := r.exec(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, ip_address, user_agent, revoked, created_at)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, ?)`,
		t.ID, t.UserID, t.TokenHash, utc(t.ExpiresAt), nullString(t.IPAddress), nullString(t.UserAgent),
		utc(t.CreatedAt))
	return r.mapWrite("create refresh token", err)
}

func (r *refreshTokensRepo) GetRefreshTokenByHash(ctx context.Context, hash string) (domain.RefreshToken, error) {
	var (
		t         domain.RefreshToken
		ip, ua    sql.NullString
		revokedAt sql.NullTime
	)
	err := r.queryRow(ctx,
		`SELECT id, user_id, token_hash, expires_at, ip_address, user_agent, revoked, revoked_at, created_at
		FROM refresh_tokens WHERE token_hash = ?`, hash).
		Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &ip, &ua, &t.Revoked, &revokedAt, &t.CreatedAt)
	if err != nil {
		return domain.RefreshToken{}, mapNotFound(err)
	}
	t.IPAddress = stringPtr(ip)
	t.UserAgent = stringPtr(ua)
	t.RevokedAt = timePtr(revokedAt)
	t.ExpiresAt = t.ExpiresAt.UTC()
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func (r *refreshTokensRepo) RevokeRefreshToken(ctx context.Context, hash string, now time.Time) (bool, error) {
	n, err := affected(r.exec(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ?
		WHERE token_hash = ? AND revoked = FALSE`, utc(now), hash))
	return n > 0, err
}

func (r *refreshTokensRepo) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	return affected(r.exec(ctx,
		`UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ?
		WHERE user_id = ? AND revoked = FALSE`, utc(now), userID))
}

func (r *refreshTokensRepo) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	return affected(r.exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= ?`, utc(now)))
}
