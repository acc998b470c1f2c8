package sqlstore

import (
	"context"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
)

type passwordHistoryRepo struct {
	conn
}

func (r *passwordHistoryRepo) AddPasswordHistory(ctx context.Context, e domain.PasswordHistoryEntry) error {
	_, err := r.exec(ctx,
		`INSERT INTO password_history (id, user_id, password_hash, created_at) VALUES (?, ?, ?, ?)`,
		e.ID, e.UserID, e.PasswordHash, utc(e.CreatedAt))
	return r.mapWrite("add password history", err)
}

func (r *passwordHistoryRepo) ListRecentPasswordHistory(ctx context.Context, userID string, limit int) ([]domain.PasswordHistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := r.query(ctx,
		`SELECT id, user_id, password_hash, created_at FROM password_history
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.PasswordHistoryEntry
	for rows.Next() {
		var e domain.PasswordHistoryEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.PasswordHash, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *passwordHistoryRepo) PrunePasswordHistory(ctx context.Context, userID string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	return affected(r.exec(ctx,
		`DELETE FROM password_history
		WHERE user_id = ? AND id NOT IN (
			SELECT id FROM password_history
			WHERE user_id = ?
			ORDER BY created_at DESC, id DESC
			LIMIT ?
		)`, userID, userID, keep))
}
