package service

import (
	"context"
	"testing"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
	"github.com/stretchr/testify/require"
)

func TestHousekeepingCleanup(t *testing.T) {
	ctx := context.Background()
	e := newSeededEnv(t)
	_, pair := loginAlice(t, e)

	_, err := e.login(ctx, "ghost", "nope", "")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	hk := NewHousekeepingService(e.st, slogx.Discard(), time.Hour)
	hk.Clock = Clock(e.clock.Now)

	rep := hk.Cleanup(ctx)
	require.Zero(t, rep.RefreshTokens)
	require.Zero(t, rep.LoginAttempts, "ledger kept without retention")
	require.Zero(t, rep.Failures)

	e.clock.Advance(8 * 24 * time.Hour)
	hk.LoginAttemptRetention = 24 * time.Hour

	rep = hk.Cleanup(ctx)
	require.Equal(t, int64(1), rep.RefreshTokens)
	require.Equal(t, int64(2), rep.LoginAttempts)
	require.Zero(t, rep.Failures)

	_, _, err = e.tokens.Refresh(ctx, pair.RefreshToken, domain.ClientInfo{})
	require.ErrorIs(t, err, ErrTokenExpired)

	rows, err := e.ledger.Recent(ctx, domain.LoginAttemptFilter{})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestHousekeepingKeepsLedgerByDefault(t *testing.T) {
	ctx := context.Background()
	e := newSeededEnv(t)
	alice := e.register(t, "alice", alicePassword)

	for range 2 {
		_, err := e.login(ctx, "alice", "Wrong!Passw0rd", "")
		require.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := e.login(ctx, "alice", alicePassword, "")
	require.NoError(t, err)

	before, err := e.ledger.Recent(ctx, domain.LoginAttemptFilter{UserID: alice.ID})
	require.NoError(t, err)
	require.Len(t, before, 3)

	hk := NewHousekeepingService(e.st, slogx.Discard(), time.Hour)
	hk.Clock = Clock(e.clock.Now)
	e.clock.Advance(365 * 24 * time.Hour)

	rep := hk.Cleanup(ctx)
	require.Zero(t, rep.LoginAttempts)

	after, err := e.ledger.Recent(ctx, domain.LoginAttemptFilter{UserID: alice.ID})
	require.NoError(t, err)
	require.Equal(t, before, after)
}

func TestHousekeepingStartStop(t *testing.T) {
	e := newEnv(t)
	hk := NewHousekeepingService(e.st, slogx.Discard(), 0)
	require.Equal(t, time.Hour, hk.Interval)
	hk.Start()
	hk.Stop()
}
