package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
)

type signingKeysRepo struct {
	conn
}

const signingKeyColumns = `id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at`

func scanSigningKey(row scanner) (domain.SigningKey, error) {
	var (
		k                  domain.SigningKey
		retired, expiresAt sql.NullTime
	)
	if err := row.Scan(&k.ID, &k.Kid, &k.Algorithm, &k.PrivateKeySealed, &k.CreatedAt, &retired, &expiresAt); err != nil {
		return domain.SigningKey{}, mapNotFound(err)
	}
	k.CreatedAt = k.CreatedAt.UTC()
	k.RetiredAt = timePtr(retired)
	k.ExpiresAt = timePtr(expiresAt)
	return k, nil
}

func (r *signingKeysRepo) CreateSigningKey(ctx context.Context, k domain.SigningKey) error {
	_, err := r.exec(ctx,
		`INSERT INTO signing_keys (id, kid, algorithm, private_key_encrypted, created_at, retired_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.Kid, k.Algorithm, k.PrivateKeySealed, utc(k.CreatedAt), nullTime(k.RetiredAt), nullTime(k.ExpiresAt))
	return r.mapWrite("create signing key", err)
}

func (r *signingKeysRepo) GetSigningKeyByKid(ctx context.Context, kid string) (domain.SigningKey, error) {
	return scanSigningKey(r.queryRow(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE kid = ?`, kid))
}

func (r *signingKeysRepo) ListSigningKeys(ctx context.Context, now time.Time) ([]domain.SigningKey, error) {
	rows, err := r.query(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys
		WHERE expires_at IS NULL OR expires_at > ?
		ORDER BY created_at DESC, id DESC`, utc(now))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.SigningKey
	for rows.Next() {
		k, err := scanSigningKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (r *signingKeysRepo) RetireSigningKey(ctx context.Context, kid string, retiredAt, expiresAt time.Time) error {
	return requireRow(r.exec(ctx,
		`UPDATE signing_keys SET retired_at = ?, expires_at = ?
		WHERE kid = ? AND retired_at IS NULL`, utc(retiredAt), utc(expiresAt), kid))
}

func (r *signingKeysRepo) DeleteExpiredSigningKeys(ctx context.Context, now time.Time) (int64, error) {
	return affected(r.exec(ctx,
		`DELETE FROM signing_keys WHERE expires_at IS NOT NULL AND expires_at <= ?`, utc(now)))
}
