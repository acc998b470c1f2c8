package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/metrics"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

const (
	DefaultMaxLoginAttempts = 5
	DefaultLockDuration     = 15 * time.Minute
)

// LockoutPolicy locks an account for LockDuration once the failure counter
// reaches MaxAttempts. MaxAttempts <= 0 disables locking.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

type LockDecision struct {
	Lock  bool
	Until time.Time
}

// Evaluate is the pure decision over the counter value after an increment.
func (p LockoutPolicy) Evaluate(failedAttempts int, now time.Time) LockDecision {
	if p.MaxAttempts <= 0 || failedAttempts < p.MaxAttempts {
		return LockDecision{}
	}
	return LockDecision{Lock: true, Until: now.Add(p.LockDuration)}
}

type LockoutService struct {
	Store   store.Store
	Ledger  *LoginLedger
	Policy  LockoutPolicy
	Clock   Clock
	Metrics *metrics.Metrics
}

// RegisterFailure increments the counter and applies the lock decision. It
// must run inside tx so the increment and the lock land together; the
// increment is a single UPDATE so concurrent failures never under-count.
func (s *LockoutService) RegisterFailure(ctx context.Context, tx store.Tx, userID string) (LockDecision, error) {
	now := s.Clock.Now()

	n, err := tx.Users().IncrementFailedLogins(ctx, userID, now)
	if err != nil {
		return LockDecision{}, fmt.Errorf("increment failed logins: %w", err)
	}

	decision := s.Policy.Evaluate(n, now)
	if !decision.Lock {
		return decision, nil
	}
	until := decision.Until
	if err := tx.Users().SetLockedUntil(ctx, userID, &until, now); err != nil {
		return LockDecision{}, fmt.Errorf("set lock: %w", err)
	}

	slogx.FromContext(ctx).Warn("account locked",
		"user_id", userID,
		"failed_login_attempts", n,
		"locked_until", until,
	)
	s.Metrics.Lockout()
	return decision, nil
}

// Unlock is the administrative reset of counter and lock.
func (s *LockoutService) Unlock(ctx context.Context, userID string) error {
	err := s.Store.Users().ResetLockout(ctx, userID, s.Clock.Now())
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("account unlocked", "user_id", userID)
	return nil
}

// Status reports the lock state together with the ledger failures inside
// the current lock window (or the last LockDuration when not locked).
func (s *LockoutService) Status(ctx context.Context, userID string) (domain.LockStatus, error) {
	now := s.Clock.Now()
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.LockStatus{}, ErrUserNotFound
	}
	if err != nil {
		return domain.LockStatus{}, err
	}

	st := domain.LockStatus{
		UserID:              u.ID,
		Locked:              u.IsLocked(now),
		FailedLoginAttempts: u.FailedLoginAttempts,
	}
	since := now.Add(-s.Policy.LockDuration)
	if st.Locked {
		st.LockedUntil = u.LockedUntil
		since = u.LockedUntil.Add(-s.Policy.LockDuration)
	}
	if s.Ledger != nil {
		st.RecentFailures, err = s.Ledger.CountFailuresSince(ctx, u.ID, since)
		if err != nil {
			return domain.LockStatus{}, err
		}
	}
	return st, nil
}
