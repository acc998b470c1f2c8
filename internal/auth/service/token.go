package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/metrics"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
	"github.com/aussiebroadwan/stockroom/pkg/idx"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

// TokenService mints access and refresh tokens and owns the refresh token
// store. Only the fingerprint of a refresh token is ever persisted.
type TokenService struct {
	KeyManager *jwtx.KeyManager
	Store      store.Store
	Resolver   *PermissionResolver
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	// RotateRefreshTokens revokes the presented refresh token on every
	// refresh and returns a new one.
	RotateRefreshTokens bool
	Clock               Clock
	Metrics             *metrics.Metrics
}

func (s *TokenService) accessTTL() time.Duration {
	if s.AccessTTL <= 0 {
		return jwtx.DefaultAccessTokenTTL
	}
	return s.AccessTTL
}

func (s *TokenService) refreshTTL() time.Duration {
	if s.RefreshTTL <= 0 {
		return jwtx.DefaultRefreshTokenTTL
	}
	return s.RefreshTTL
}

// IssueTokens mints a token pair for an authenticated user and stores the
// refresh token fingerprint.
func (s *TokenService) IssueTokens(
	ctx context.Context,
	u domain.User,
	perms domain.ResolvedPermissions,
	client domain.ClientInfo,
) (*domain.TokenPair, error) {
	now := s.Clock.Now()

	access, err := s.mintAccess(u, perms, now)
	if err != nil {
		return nil, err
	}
	refresh, err := s.mintRefresh(ctx, s.Store, u.ID, client, now)
	if err != nil {
		return nil, err
	}
	return s.pair(access, refresh), nil
}

// Refresh exchanges a refresh token for a new access token carrying the
// user's current permissions, which are also returned.
func (s *TokenService) Refresh(
	ctx context.Context,
	raw string,
	client domain.ClientInfo,
) (*domain.TokenPair, domain.ResolvedPermissions, error) {
	now := s.Clock.Now()
	l := slogx.FromContext(ctx)

	// 1. Signature, issuer, expiry and token_use
	claims, err := s.KeyManager.Verifier.VerifyUse(raw, jwtx.UseRefresh, now)
	if err != nil {
		err = mapTokenError(err)
		s.Metrics.RefreshOutcome(err.Error())
		return nil, domain.ResolvedPermissions{}, err
	}

	hash := cryptox.FingerprintToken(raw)
	var (
		pair     *domain.TokenPair
		resolved domain.ResolvedPermissions
	)

	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		// 2. Stored row must exist, be unrevoked and unexpired
		row, err := tx.RefreshTokens().GetRefreshTokenByHash(ctx, hash)
		if errors.Is(err, store.ErrNotFound) {
			return ErrTokenRevoked
		}
		if err != nil {
			return err
		}
		if row.Revoked {
			l.Warn("refresh with revoked token", "user_id", row.UserID, "token_id", row.ID)
			return ErrTokenRevoked
		}
		if !now.Before(row.ExpiresAt) {
			return ErrTokenExpired
		}
		if row.UserID != claims.Subject {
			return ErrTokenMalformed
		}

		// 3. Owner must still be allowed in
		u, err := tx.Users().GetUserByID(ctx, row.UserID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrAccountDeactivated
		}
		if err != nil {
			return err
		}
		if !u.Active {
			return ErrAccountDeactivated
		}

		// 4. Permissions are re-derived, never copied from the old token
		perms, err := s.Resolver.ResolveWith(ctx, tx, u.ID)
		if err != nil {
			return fmt.Errorf("resolve permissions: %w", err)
		}
		access, err := s.mintAccess(u, perms, now)
		if err != nil {
			return err
		}

		// 5. Optional rotation. Losing the revoke to a concurrent refresh
		// means the token was already spent.
		var refresh string
		if s.RotateRefreshTokens {
			revoked, err := tx.RefreshTokens().RevokeRefreshToken(ctx, hash, now)
			if err != nil {
				return fmt.Errorf("revoke rotated refresh token: %w", err)
			}
			if !revoked {
				l.Warn("refresh token spent concurrently", "user_id", row.UserID, "token_id", row.ID)
				return ErrTokenRevoked
			}
			refresh, err = s.mintRefresh(ctx, tx, u.ID, client, now)
			if err != nil {
				return err
			}
		}

		pair = s.pair(access, refresh)
		resolved = perms
		return nil
	})
	if err != nil {
		s.Metrics.RefreshOutcome(outcomeLabel(err))
		return nil, domain.ResolvedPermissions{}, err
	}

	s.Metrics.RefreshOutcome("ok")
	return pair, resolved, nil
}

// Revoke marks the refresh token revoked. Unknown or already revoked tokens
// are not an error.
func (s *TokenService) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	revoked, err := s.Store.RefreshTokens().RevokeRefreshToken(ctx, cryptox.FingerprintToken(raw), s.Clock.Now())
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if revoked {
		slogx.FromContext(ctx).Info("refresh token revoked")
	}
	return nil
}

// RevokeAllForUser revokes every live refresh token of the user through st.
func (s *TokenService) RevokeAllForUser(ctx context.Context, st store.Store, userID string) (int64, error) {
	return st.RefreshTokens().RevokeAllForUser(ctx, userID, s.Clock.Now())
}

// VerifyAccess validates an access token for use on protected routes.
func (s *TokenService) VerifyAccess(ctx context.Context, raw string) (*jwtx.Claims, error) {
	claims, err := s.KeyManager.Verifier.VerifyUse(raw, jwtx.UseAccess, s.Clock.Now())
	if err != nil {
		return nil, mapTokenError(err)
	}
	return claims, nil
}

func (s *TokenService) mintAccess(u domain.User, perms domain.ResolvedPermissions, now time.Time) (string, error) {
	claims := jwtx.NewAccessClaims(jwtx.Identity{
		Subject:     u.ID,
		Username:    u.Username,
		Email:       u.Email,
		Roles:       perms.Roles,
		Permissions: perms.Permissions,
	}, s.Issuer, s.accessTTL(), now)

	token, err := s.KeyManager.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return token, nil
}

func (s *TokenService) mintRefresh(
	ctx context.Context,
	st store.Store,
	userID string,
	client domain.ClientInfo,
	now time.Time,
) (string, error) {
	claims := jwtx.NewRefreshClaims(userID, s.Issuer, s.refreshTTL(), now)
	token, err := s.KeyManager.Sign(claims)
	if err != nil {
		return "", fmt.Errorf("sign refresh token: %w", err)
	}

	err = st.RefreshTokens().CreateRefreshToken(ctx, domain.RefreshToken{
		ID:        idx.NewAt(now).String(),
		UserID:    userID,
		TokenHash: cryptox.FingerprintToken(token),
		ExpiresAt: claims.ExpiresAt.Time,
		IPAddress: optional(client.IPAddress),
		UserAgent: optional(client.UserAgent),
		CreatedAt: now,
	})
	if err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return token, nil
}

func (s *TokenService) pair(access, refresh string) *domain.TokenPair {
	return &domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.accessTTL() / time.Second),
	}
}

func mapTokenError(err error) error {
	if errors.Is(err, jwtx.ErrExpired) {
		return ErrTokenExpired
	}
	return ErrTokenMalformed
}

// outcomeLabel keeps metric labels to the known error set.
func outcomeLabel(err error) string {
	for _, known := range []error{
		ErrTokenExpired, ErrTokenRevoked, ErrTokenMalformed, ErrAccountDeactivated,
		ErrInvalidCredentials, ErrAccountLocked, ErrPasswordExpired, ErrMFAInvalid, ErrPolicyViolation,
	} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "error"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
