package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/metrics"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
	"github.com/aussiebroadwan/stockroom/pkg/idx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

// DefaultRole is granted on registration.
const DefaultRole = "vendedor"

type RegisterRequest struct {
	Username string
	Email    string
	Password string
}

// UserService owns account lifecycle and password changes.
type UserService struct {
	Store     store.Store
	Hasher    cryptox.PasswordHasher
	Passwords *PasswordPolicyService
	Tokens    *TokenService
	// DefaultRole is assigned on registration; empty assigns nothing.
	DefaultRole string
	Clock       Clock
	Metrics     *metrics.Metrics
}

func (s *UserService) GetUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	return u, err
}

// Register creates an active account with a policy-checked password.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (domain.User, error) {
	username := strings.TrimSpace(req.Username)
	email := strings.TrimSpace(req.Email)
	if username == "" || strings.ContainsAny(username, " @") {
		return domain.User{}, fmt.Errorf("%w: invalid username", ErrInvalidRequest)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.User{}, fmt.Errorf("%w: invalid email", ErrInvalidRequest)
	}

	hash, err := s.Passwords.hashIfAcceptable(ctx, s.Store, "", req.Password)
	if err != nil {
		return domain.User{}, err
	}

	now := s.Clock.Now()
	u := domain.User{
		ID:                idx.NewAt(now).String(),
		Username:          username,
		Email:             strings.ToLower(email),
		PasswordHash:      hash,
		PasswordChangedAt: now,
		Active:            true,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().CreateUser(ctx, u); err != nil {
			if errors.Is(err, store.ErrAlreadyExists) {
				return ErrUserExists
			}
			return err
		}
		if err := s.Passwords.Remember(ctx, tx, u.ID, hash); err != nil {
			return fmt.Errorf("remember password: %w", err)
		}
		if s.DefaultRole != "" {
			return assignRole(ctx, tx, u.ID, s.DefaultRole)
		}
		return nil
	})
	if err != nil {
		return domain.User{}, err
	}

	slogx.FromContext(ctx).Info("user registered", "user_id", u.ID, "username", u.Username)
	return u, nil
}

// ChangePassword verifies current, applies the policy and reuse window,
// stores next, clears any lockout and revokes every refresh token of the
// user. All of it commits or none of it does.
func (s *UserService) ChangePassword(ctx context.Context, userID, current, next string) error {
	now := s.Clock.Now()
	var revoked int64

	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		u, err := tx.Users().GetUserByID(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}

		if err := s.Hasher.Verify(current, u.PasswordHash); err != nil {
			if errors.Is(err, cryptox.ErrPasswordMismatch) {
				return ErrInvalidCredentials
			}
			return fmt.Errorf("verify password: %w", err)
		}

		hash, err := s.Passwords.hashIfAcceptable(ctx, tx, u.ID, next)
		if err != nil {
			return err
		}
		if err := tx.Users().UpdatePassword(ctx, u.ID, hash, now); err != nil {
			return fmt.Errorf("update password: %w", err)
		}
		if err := tx.Users().ResetLockout(ctx, u.ID, now); err != nil {
			return fmt.Errorf("reset lockout: %w", err)
		}
		if err := s.Passwords.Remember(ctx, tx, u.ID, hash); err != nil {
			return fmt.Errorf("remember password: %w", err)
		}
		revoked, err = s.Tokens.RevokeAllForUser(ctx, tx, u.ID)
		return err
	})

	l := slogx.FromContext(ctx)
	if err != nil {
		s.Metrics.PasswordChange(outcomeLabel(err))
		l.Warn("password change rejected", "user_id", userID, "error", err)
		return err
	}

	s.Metrics.PasswordChange("ok")
	l.Info("password changed", "user_id", userID, "revoked_refresh_tokens", revoked)
	return nil
}

// SetActive enables or disables login. Deactivation revokes every refresh
// token so existing sessions end at the next refresh.
func (s *UserService) SetActive(ctx context.Context, userID string, active bool) error {
	now := s.Clock.Now()
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().SetActive(ctx, userID, active, now); err != nil {
			return err
		}
		if active {
			return nil
		}
		_, err := s.Tokens.RevokeAllForUser(ctx, tx, userID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("user active flag changed", "user_id", userID, "active", active)
	return nil
}

// SoftDelete hides the user from every lookup and revokes its sessions.
func (s *UserService) SoftDelete(ctx context.Context, userID string) error {
	now := s.Clock.Now()
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Users().SoftDelete(ctx, userID, now); err != nil {
			return err
		}
		_, err := s.Tokens.RevokeAllForUser(ctx, tx, userID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		return ErrUserNotFound
	}
	if err != nil {
		return err
	}
	slogx.FromContext(ctx).Info("user deleted", "user_id", userID)
	return nil
}
