package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
)

type loginAttemptsRepo struct {
	conn
}

const maxLedgerPage = 500

func (r *loginAttemptsRepo) RecordLoginAttempt(ctx context.Context, a domain.LoginAttempt) error {
	var reason *string
	if a.FailureReason != nil {
		s := string(*a.FailureReason)
		reason = &s
	}
	_, err := r.exec(ctx,
		`INSERT INTO login_attempts (id, user_id, identifier, ip_address, user_agent, success, failure_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, nullString(a.UserID), a.Identifier, a.IPAddress, nullString(a.UserAgent), a.Success,
		nullString(reason), utc(a.CreatedAt))
	return r.mapWrite("record login attempt", err)
}

func (r *loginAttemptsRepo) ListLoginAttempts(ctx context.Context, f domain.LoginAttemptFilter) ([]domain.LoginAttempt, error) {
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.Identifier != "" {
		where = append(where, "identifier = ?")
		args = append(args, f.Identifier)
	}
	if !f.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, utc(f.Since))
	}
	if f.OnlyFailure {
		where = append(where, "success = FALSE")
	}

	limit := f.Limit
	if limit <= 0 || limit > maxLedgerPage {
		limit = maxLedgerPage
	}

	q := `SELECT id, user_id, identifier, ip_address, user_agent, success, failure_reason, created_at
		FROM login_attempts`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT " + strconv.Itoa(limit)

	rows, err := r.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.LoginAttempt{}
	for rows.Next() {
		var (
			a          domain.LoginAttempt
			userID, ua sql.NullString
			reason     sql.NullString
		)
		if err := rows.Scan(&a.ID, &userID, &a.Identifier, &a.IPAddress, &ua, &a.Success, &reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.UserID = stringPtr(userID)
		a.UserAgent = stringPtr(ua)
		if reason.Valid {
			fr := domain.FailureReason(reason.String)
			a.FailureReason = &fr
		}
		a.CreatedAt = a.CreatedAt.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *loginAttemptsRepo) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	var n int64
	err := r.queryRow(ctx,
		`SELECT COUNT(*) FROM login_attempts
		WHERE user_id = ? AND success = FALSE AND created_at >= ?`, userID, utc(since)).Scan(&n)
	return int(n), err
}

func (r *loginAttemptsRepo) DeleteLoginAttemptsBefore(ctx context.Context, before time.Time) (int64, error) {
	return affected(r.exec(ctx, `DELETE FROM login_attempts WHERE created_at < ?`, utc(before)))
}
