package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMFAEnroll(t *testing.T) {
	ctx := context.Background()
	e := newSeededEnv(t)
	bob := e.register(t, "bob", bobPassword)

	enr, err := e.mfa.Enroll(ctx, bob.ID)
	require.NoError(t, err)
	require.Len(t, enr.Secret, 32, "160 bits in base32")
	require.True(t, strings.HasPrefix(enr.ProvisioningURI, "otpauth://totp/"))
	require.Contains(t, enr.ProvisioningURI, "issuer=Stockroom")
	require.True(t, strings.HasPrefix(enr.QRCode, "data:image/png;base64,"))
	require.Equal(t, "bob@stockroom.test", enr.Account)

	u := e.user(t, bob.ID)
	require.False(t, u.MFAEnabled)
	require.True(t, u.HasPendingMFA())

	again, err := e.mfa.Enroll(ctx, bob.ID)
	require.NoError(t, err)
	require.NotEqual(t, enr.Secret, again.Secret, "re-enrolling replaces the pending secret")

	_, err = e.mfa.Enroll(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestMFAActivate(t *testing.T) {
	ctx := context.Background()
	e := newSeededEnv(t)
	bob := e.register(t, "bob", bobPassword)

	require.ErrorIs(t, e.mfa.Activate(ctx, bob.ID, "123456"), ErrMFANotEnrolled)

	enr, err := e.mfa.Enroll(ctx, bob.ID)
	require.NoError(t, err)

	wrong := totpCode(t, enr.Secret, t0.Add(10*time.Minute))
	require.ErrorIs(t, e.mfa.Activate(ctx, bob.ID, wrong), ErrMFAInvalid)
	require.False(t, e.user(t, bob.ID).MFAEnabled)

	require.NoError(t, e.mfa.Activate(ctx, bob.ID, totpCode(t, enr.Secret, t0)))
	require.True(t, e.user(t, bob.ID).MFAEnabled)

	require.ErrorIs(t, e.mfa.Activate(ctx, bob.ID, totpCode(t, enr.Secret, t0)), ErrMFAAlreadyEnabled)
	_, err = e.mfa.Enroll(ctx, bob.ID)
	require.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}

func TestMFAVerifyWindow(t *testing.T) {
	t.Parallel()
	e := &MFAService{}
	const secret = "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP"

	// Codes from two steps either side of t0 are accepted, three are not.
	for step := -2; step <= 2; step++ {
		code := totpCode(t, secret, t0.Add(time.Duration(step)*30*time.Second))
		require.True(t, e.Verify(secret, code, t0), "step %d", step)
	}
	for _, step := range []int{-4, -3, 3, 4} {
		code := totpCode(t, secret, t0.Add(time.Duration(step)*30*time.Second))
		require.False(t, e.Verify(secret, code, t0), "step %d", step)
	}

	// A code from t0 stays valid through two later steps and expires at the
	// third.
	code := totpCode(t, secret, t0)
	for _, offset := range []time.Duration{29 * time.Second, 30 * time.Second, 60 * time.Second, 89 * time.Second} {
		require.True(t, e.Verify(secret, code, t0.Add(offset)), "offset %s", offset)
	}
	require.False(t, e.Verify(secret, code, t0.Add(90*time.Second)))

	require.False(t, e.Verify(secret, "", t0))
	require.False(t, e.Verify("", code, t0))
}

func TestMFADisable(t *testing.T) {
	ctx := context.Background()
	e := newSeededEnv(t)
	bob := e.register(t, "bob", bobPassword)

	require.ErrorIs(t, e.mfa.Disable(ctx, bob.ID, bobPassword, "123456"), ErrMFANotEnabled)

	secret := e.enableMFA(t, bob.ID)
	code := totpCode(t, secret, t0)

	require.ErrorIs(t, e.mfa.Disable(ctx, bob.ID, "Wrong!Passw0rd", code), ErrInvalidCredentials)
	require.ErrorIs(t, e.mfa.Disable(ctx, bob.ID, bobPassword, totpCode(t, secret, t0.Add(time.Hour))), ErrMFAInvalid)
	require.True(t, e.user(t, bob.ID).MFAEnabled)

	require.NoError(t, e.mfa.Disable(ctx, bob.ID, bobPassword, code))
	u := e.user(t, bob.ID)
	require.False(t, u.MFAEnabled)
	require.Nil(t, u.MFASecret)

	res, err := e.login(ctx, "bob", bobPassword, "")
	require.NoError(t, err)
	require.NotNil(t, res.Tokens)
}
