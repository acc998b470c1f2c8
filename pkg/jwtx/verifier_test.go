package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func newSignerAndVerifier(t *testing.T, alg string) (*jwtx.Signer, *jwtx.Verifier) {
	t.Helper()
	s, _, err := jwtx.GenerateSigner(alg)
	require.NoError(t, err)

	ks := jwtx.NewKeySet()
	require.NoError(t, ks.AddSigner(s))
	return s, jwtx.NewVerifier(ks, "stockroom-auth", 0)
}

func TestVerifier_RoundTrip(t *testing.T) {
	for _, alg := range []string{jwtx.AlgorithmEdDSA, jwtx.AlgorithmES256} {
		t.Run(alg, func(t *testing.T) {
			s, v := newSignerAndVerifier(t, alg)
			now := time.Now().UTC().Truncate(time.Second)

			token, err := s.Sign(jwtx.NewAccessClaims(jwtx.Identity{
				Subject:     "user-1",
				Username:    "alice",
				Permissions: []string{"inventory:read"},
			}, "stockroom-auth", time.Minute, now))
			require.NoError(t, err)

			c, err := v.VerifyAt(token, now.Add(30*time.Second))
			require.NoError(t, err)
			require.Equal(t, "user-1", c.Subject)
			require.Equal(t, "alice", c.Username)
			require.Equal(t, []string{"inventory:read"}, c.Permissions)

			_, err = v.VerifyUse(token, jwtx.UseAccess, now)
			require.NoError(t, err)
			_, err = v.VerifyUse(token, jwtx.UseRefresh, now)
			require.ErrorIs(t, err, jwtx.ErrTokenUse)
		})
	}
}

func TestVerifier_Failures(t *testing.T) {
	s, v := newSignerAndVerifier(t, jwtx.AlgorithmEdDSA)
	other, _ := newSignerAndVerifier(t, jwtx.AlgorithmEdDSA)
	now := time.Now().UTC().Truncate(time.Second)

	sign := func(s *jwtx.Signer, c jwtx.Claims) string {
		token, err := s.Sign(c)
		require.NoError(t, err)
		return token
	}
	good := sign(s, jwtx.NewRefreshClaims("u", "stockroom-auth", time.Minute, now))

	t.Run("expired", func(t *testing.T) {
		_, err := v.VerifyAt(good, now.Add(2*time.Minute))
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		_, err := v.VerifyAt(good, now.Add(-time.Minute))
		require.ErrorIs(t, err, jwtx.ErrNotYetValid)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		token := sign(s, jwtx.NewRefreshClaims("u", "someone-else", time.Minute, now))
		_, err := v.VerifyAt(token, now)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})

	t.Run("unknown kid", func(t *testing.T) {
		token := sign(other, jwtx.NewRefreshClaims("u", "stockroom-auth", time.Minute, now))
		_, err := v.VerifyAt(token, now)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(good, ".")
		forged := sign(s, jwtx.NewRefreshClaims("admin", "stockroom-auth", time.Minute, now))
		parts[1] = strings.Split(forged, ".")[1]
		_, err := v.VerifyAt(strings.Join(parts, "."), now)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.VerifyAt("not.a.jwt", now)
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("alg none", func(t *testing.T) {
		c := jwtx.NewRefreshClaims("u", "stockroom-auth", time.Minute, now)
		tok := jwt.NewWithClaims(jwt.SigningMethodNone, c)
		tok.Header["kid"] = s.KID()
		raw, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		_, err = v.VerifyAt(raw, now)
		require.Error(t, err)
	})

	t.Run("missing exp", func(t *testing.T) {
		c := jwtx.NewRefreshClaims("u", "stockroom-auth", time.Minute, now)
		c.ExpiresAt = nil
		_, err := v.VerifyAt(sign(s, c), now)
		require.Error(t, err)
	})
}
