package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/metrics"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

// AuthService is the authentication orchestrator. Every gate short-circuits,
// and every terminal outcome is written to the ledger before returning.
type AuthService struct {
	Store    store.Store
	Hasher   cryptox.PasswordHasher
	Lockout  *LockoutService
	Ledger   *LoginLedger
	MFA      *MFAService
	Tokens   *TokenService
	Resolver *PermissionResolver
	// PasswordMaxAge is the expiry window since the last change. Zero
	// disables expiry.
	PasswordMaxAge time.Duration
	Clock          Clock
	Metrics        *metrics.Metrics

	dummyOnce sync.Once
	dummyHash string
}

// Authenticate runs the login gates in order. A nil error with
// OutcomeMFARequired asks the caller to resubmit with an MFA code.
func (s *AuthService) Authenticate(
	ctx context.Context,
	cred domain.Credentials,
	client domain.ClientInfo,
) (*domain.AuthResult, error) {
	now := s.Clock.Now()
	log := slogx.FromContext(ctx)
	identifier := strings.TrimSpace(cred.Identifier)

	attempt := domain.LoginAttempt{
		Identifier: identifier,
		IPAddress:  client.IPAddress,
		UserAgent:  optional(client.UserAgent),
		CreatedAt:  now,
	}

	// 1. Resolve identifier
	u, err := s.Store.Users().GetUserByIdentifier(ctx, identifier)
	if errors.Is(err, store.ErrNotFound) {
		s.burnHash(cred.Password)
		return nil, s.reject(ctx, attempt, domain.ReasonInvalidCredentials, ErrInvalidCredentials)
	}
	if err != nil {
		log.Error("user lookup failed", "error", err)
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	attempt.UserID = &u.ID

	// 2. Lock state
	if u.IsLocked(now) {
		s.burnHash(cred.Password)
		return nil, s.reject(ctx, attempt, domain.ReasonAccountLocked, ErrAccountLocked)
	}

	// 3. Active flag
	if !u.Active {
		s.burnHash(cred.Password)
		return nil, s.reject(ctx, attempt, domain.ReasonAccountDeactivated, ErrAccountDeactivated)
	}

	// 4. Password
	if err := s.Hasher.Verify(cred.Password, u.PasswordHash); err != nil {
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			log.Error("stored password hash unusable", "user_id", u.ID, "error", err)
			return nil, fmt.Errorf("verify password: %w", err)
		}
		err := s.Store.WithTx(ctx, func(tx store.Tx) error {
			_, err := s.Lockout.RegisterFailure(ctx, tx, u.ID)
			return err
		})
		rejected := s.reject(ctx, attempt, domain.ReasonInvalidCredentials, ErrInvalidCredentials)
		if err != nil {
			log.Error("lockout update failed", "user_id", u.ID, "error", err)
			return nil, errors.Join(rejected, err)
		}
		return nil, rejected
	}

	// 5. Password expiry
	if u.PasswordExpired(now, s.PasswordMaxAge) {
		return nil, s.reject(ctx, attempt, domain.ReasonPasswordExpired, ErrPasswordExpired)
	}

	// 6. Second factor
	if u.MFAEnabled && u.MFASecret != nil {
		code := strings.TrimSpace(cred.MFACode)
		if code == "" {
			s.Metrics.LoginOutcome(string(domain.OutcomeMFARequired))
			return &domain.AuthResult{Outcome: domain.OutcomeMFARequired, UserID: u.ID}, nil
		}
		if !s.MFA.Verify(*u.MFASecret, code, now) {
			s.Metrics.MFAEvent("login_failed")
			return nil, s.reject(ctx, attempt, domain.ReasonMFAFailed, ErrMFAInvalid)
		}
	}

	// 7. Success
	if err := s.Store.Users().RecordSuccessfulLogin(ctx, u.ID, client.IPAddress, now); err != nil {
		return nil, fmt.Errorf("record successful login: %w", err)
	}
	s.upgradeHash(ctx, u, cred.Password, now)

	perms, err := s.Resolver.Resolve(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("resolve permissions: %w", err)
	}
	tokens, err := s.Tokens.IssueTokens(ctx, u, perms, client)
	if err != nil {
		return nil, err
	}

	attempt.Success = true
	if err := s.Ledger.Record(ctx, attempt); err != nil {
		log.Error("ledger write failed", "user_id", u.ID, "error", err)
		return nil, err
	}

	log.Info("login succeeded", "user_id", u.ID)
	s.Metrics.LoginOutcome(string(domain.OutcomeAuthenticated))
	return &domain.AuthResult{
		Outcome:     domain.OutcomeAuthenticated,
		UserID:      u.ID,
		Tokens:      tokens,
		Permissions: perms,
	}, nil
}

// reject records a failed attempt and returns outcome, joined with the
// ledger error if the write failed.
func (s *AuthService) reject(
	ctx context.Context,
	attempt domain.LoginAttempt,
	reason domain.FailureReason,
	outcome error,
) error {
	log := slogx.FromContext(ctx)
	attempt.FailureReason = &reason

	log.Warn("login failed",
		"identifier", attempt.Identifier,
		"reason", reason,
		"ip", attempt.IPAddress,
	)
	s.Metrics.LoginOutcome(string(reason))

	if err := s.Ledger.Record(ctx, attempt); err != nil {
		log.Error("ledger write failed", "identifier", attempt.Identifier, "error", err)
		return errors.Join(outcome, err)
	}
	return outcome
}

// burnHash spends one hash verification so rejected lookups take roughly as
// long as a real password check.
func (s *AuthService) burnHash(password string) {
	s.dummyOnce.Do(func() {
		secret, err := cryptox.GenerateToken(cryptox.TokenSize128)
		if err != nil {
			return
		}
		s.dummyHash, _ = s.Hasher.Hash(secret)
	})
	if s.dummyHash != "" {
		_ = s.Hasher.Verify(password, s.dummyHash)
	}
}

// upgradeHash re-hashes a correct password stored with outdated parameters
// or a non-primary primitive. Failures only cost the upgrade.
func (s *AuthService) upgradeHash(ctx context.Context, u domain.User, password string, now time.Time) {
	if !s.Hasher.NeedsRehash(u.PasswordHash) {
		return
	}
	log := slogx.FromContext(ctx)

	hash, err := s.Hasher.Hash(password)
	if err != nil {
		log.Warn("password rehash failed", "user_id", u.ID, "error", err)
		return
	}
	if err := s.Store.Users().UpdatePasswordHash(ctx, u.ID, hash, now); err != nil {
		log.Warn("password rehash not stored", "user_id", u.ID, "error", err)
		return
	}
	log.Info("password hash upgraded", "user_id", u.ID)
}
