package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockoutPolicyEvaluate(t *testing.T) {
	t.Parallel()
	p := LockoutPolicy{MaxAttempts: 5, LockDuration: 15 * time.Minute}

	cases := []struct {
		failed int
		lock   bool
	}{
		{0, false},
		{4, false},
		{5, true},
		{9, true},
	}
	for _, tc := range cases {
		d := p.Evaluate(tc.failed, t0)
		require.Equal(t, tc.lock, d.Lock, "failed=%d", tc.failed)
		if tc.lock {
			require.Equal(t, t0.Add(15*time.Minute), d.Until)
		}
	}

	require.False(t, LockoutPolicy{}.Evaluate(100, t0).Lock, "zero MaxAttempts disables locking")
}

func TestLockoutStatusAndUnlock(t *testing.T) {
	ctx := context.Background()
	e := newSeededEnv(t)
	alice := e.register(t, "alice", alicePassword)

	st, err := e.lockout.Status(ctx, alice.ID)
	require.NoError(t, err)
	require.False(t, st.Locked)
	require.Zero(t, st.RecentFailures)

	for range DefaultMaxLoginAttempts {
		_, err := e.login(ctx, "alice", "Wrong!Passw0rd", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	st, err = e.lockout.Status(ctx, alice.ID)
	require.NoError(t, err)
	require.True(t, st.Locked)
	require.NotNil(t, st.LockedUntil)
	require.Equal(t, DefaultMaxLoginAttempts, st.FailedLoginAttempts)
	require.Equal(t, DefaultMaxLoginAttempts, st.RecentFailures)

	require.NoError(t, e.lockout.Unlock(ctx, alice.ID))
	st, err = e.lockout.Status(ctx, alice.ID)
	require.NoError(t, err)
	require.False(t, st.Locked)
	require.Zero(t, st.FailedLoginAttempts)

	_, err = e.login(ctx, "alice", alicePassword, "")
	require.NoError(t, err)

	require.ErrorIs(t, e.lockout.Unlock(ctx, "missing"), ErrUserNotFound)
	_, err = e.lockout.Status(ctx, "missing")
	require.ErrorIs(t, err, ErrUserNotFound)
}

func TestCounterSurvivesUntilSuccess(t *testing.T) {
	ctx := context.Background()
	e := newSeededEnv(t)
	alice := e.register(t, "alice", alicePassword)

	for range 3 {
		_, err := e.login(ctx, "alice", "Wrong!Passw0rd", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}

	// Time alone never decrements the counter.
	e.clock.Advance(24 * time.Hour)
	require.Equal(t, 3, e.user(t, alice.ID).FailedLoginAttempts)

	for range 2 {
		_, err := e.login(ctx, "alice", "Wrong!Passw0rd", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	u := e.user(t, alice.ID)
	require.True(t, u.IsLocked(e.clock.Now()))
}
