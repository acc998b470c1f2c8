package service

import (
	"context"
	"fmt"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/idx"
)

// LoginLedger is the append-only record of terminal authentication
// outcomes.
type LoginLedger struct {
	Store store.Store
	Clock Clock
}

// Record appends one attempt. ID and CreatedAt are filled in when empty.
func (l *LoginLedger) Record(ctx context.Context, a domain.LoginAttempt) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = l.Clock.Now()
	}
	if a.ID == "" {
		a.ID = idx.NewAt(a.CreatedAt).String()
	}
	if a.Success {
		a.FailureReason = nil
	}
	if err := l.Store.LoginAttempts().RecordLoginAttempt(ctx, a); err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// Recent returns attempts matching f, newest first.
func (l *LoginLedger) Recent(ctx context.Context, f domain.LoginAttemptFilter) ([]domain.LoginAttempt, error) {
	return l.Store.LoginAttempts().ListLoginAttempts(ctx, f)
}

func (l *LoginLedger) CountFailuresSince(ctx context.Context, userID string, since time.Time) (int, error) {
	return l.Store.LoginAttempts().CountFailuresSince(ctx, userID, since)
}
