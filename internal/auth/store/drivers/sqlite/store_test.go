package sqlite_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/stockroom/pkg/idx"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T) store.Store {
	t.Helper()
	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seedUser(t *testing.T, st store.Store, username string) domain.User {
	t.Helper()
	u := domain.User{
		ID:                idx.NewAt(t0).String(),
		Username:          username,
		Email:             username + "@Example.com",
		PasswordHash:      "$argon2id$dummy",
		PasswordChangedAt: t0,
		Active:            true,
		CreatedAt:         t0,
		UpdatedAt:         t0,
	}
	require.NoError(t, st.Users().CreateUser(context.Background(), u))
	return u
}

func TestUsers(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	u := seedUser(t, st, "alice")

	t.Run("lookup by username or email", func(t *testing.T) {
		got, err := st.Users().GetUserByIdentifier(ctx, "alice")
		require.NoError(t, err)
		require.Equal(t, u.ID, got.ID)
		require.Equal(t, "alice@example.com", got.Email)
		require.True(t, got.Active)
		require.True(t, t0.Equal(got.PasswordChangedAt))

		got, err = st.Users().GetUserByIdentifier(ctx, "ALICE@example.COM")
		require.NoError(t, err)
		require.Equal(t, u.ID, got.ID)

		_, err = st.Users().GetUserByIdentifier(ctx, "Alice")
		require.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("duplicate username", func(t *testing.T) {
		dup := u
		dup.ID = idx.New().String()
		dup.Email = "other@example.com"
		err := st.Users().CreateUser(ctx, dup)
		require.ErrorIs(t, err, store.ErrAlreadyExists)
	})

	t.Run("failed login counter and lock", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			n, err := st.Users().IncrementFailedLogins(ctx, u.ID, t0)
			require.NoError(t, err)
			require.Equal(t, i, n)
		}
		until := t0.Add(15 * time.Minute)
		require.NoError(t, st.Users().SetLockedUntil(ctx, u.ID, &until, t0))

		got, err := st.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Equal(t, 3, got.FailedLoginAttempts)
		require.NotNil(t, got.LockedUntil)
		require.True(t, got.IsLocked(t0))

		require.NoError(t, st.Users().RecordSuccessfulLogin(ctx, u.ID, "10.0.0.1", t0.Add(time.Hour)))
		got, err = st.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.Zero(t, got.FailedLoginAttempts)
		require.Nil(t, got.LockedUntil)
		require.Equal(t, "10.0.0.1", *got.LastLoginIP)
	})

	t.Run("mfa secret lifecycle", func(t *testing.T) {
		require.ErrorIs(t, st.Users().EnableMFA(ctx, idx.New().String(), t0), store.ErrNotFound)

		require.NoError(t, st.Users().SetMFASecret(ctx, u.ID, "JBSWY3DPEHPK3PXP", t0))
		got, err := st.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, got.HasPendingMFA())

		require.NoError(t, st.Users().EnableMFA(ctx, u.ID, t0))
		got, err = st.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.True(t, got.MFAEnabled)

		require.NoError(t, st.Users().DisableMFA(ctx, u.ID, t0))
		got, err = st.Users().GetUserByID(ctx, u.ID)
		require.NoError(t, err)
		require.False(t, got.MFAEnabled)
		require.Nil(t, got.MFASecret)
	})

	t.Run("soft delete hides the user", func(t *testing.T) {
		bob := seedUser(t, st, "bob")
		require.NoError(t, st.Users().SoftDelete(ctx, bob.ID, t0))
		_, err := st.Users().GetUserByIdentifier(ctx, "bob")
		require.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.Users().GetUserByID(ctx, bob.ID)
		require.ErrorIs(t, err, store.ErrNotFound)
	})
}

func TestConcurrentIncrementsAreNotLost(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	u := seedUser(t, st, "carol")

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for range n {
		go func() {
			defer wg.Done()
			_ = st.WithTx(ctx, func(tx store.Tx) error {
				_, err := tx.Users().IncrementFailedLogins(ctx, u.ID, t0)
				return err
			})
		}()
	}
	wg.Wait()

	got, err := st.Users().GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, n, got.FailedLoginAttempts)
}

func TestRolesResolve(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	u := seedUser(t, st, "dave")

	mkRole := func(name string, active bool) domain.Role {
		r := domain.Role{ID: idx.New().String(), Name: name, DisplayName: name, Active: active, CreatedAt: t0, UpdatedAt: t0}
		require.NoError(t, st.Roles().CreateRole(ctx, r))
		return r
	}
	mkPerm := func(name string) domain.Permission {
		p, err := domain.NewPermission(idx.New().String(), name, "", t0)
		require.NoError(t, err)
		require.NoError(t, st.Roles().CreatePermission(ctx, p))
		return p
	}

	seller := mkRole("vendedor", true)
	manager := mkRole("encargado_tienda", true)
	retired := mkRole("retired", false)
	empty := mkRole("empty", true)
	read := mkPerm("ventas:read")
	create := mkPerm("ventas:create")
	inv := mkPerm("inventario:read")
	secret := mkPerm("secret:read")

	require.NoError(t, st.Roles().GrantPermission(ctx, seller.ID, read.ID))
	require.NoError(t, st.Roles().GrantPermission(ctx, seller.ID, create.ID))
	require.NoError(t, st.Roles().GrantPermission(ctx, seller.ID, create.ID))
	require.NoError(t, st.Roles().GrantPermission(ctx, manager.ID, read.ID))
	require.NoError(t, st.Roles().GrantPermission(ctx, manager.ID, inv.ID))
	require.NoError(t, st.Roles().GrantPermission(ctx, retired.ID, secret.ID))

	for _, r := range []domain.Role{seller, manager, retired, empty} {
		require.NoError(t, st.Roles().AssignRole(ctx, u.ID, r.ID))
	}
	require.NoError(t, st.Roles().AssignRole(ctx, u.ID, seller.ID))

	res, err := st.Roles().ResolveUserPermissions(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"empty", "encargado_tienda", "vendedor"}, res.Roles)
	require.Equal(t, []string{"inventario:read", "ventas:create", "ventas:read"}, res.Permissions)

	got, err := st.Roles().GetRoleByName(ctx, "vendedor")
	require.NoError(t, err)
	require.Equal(t, []string{"ventas:create", "ventas:read"}, got.Permissions)

	roles, err := st.Roles().ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 4)

	require.NoError(t, st.Roles().RevokePermission(ctx, seller.ID, create.ID))
	require.NoError(t, st.Roles().UnassignRole(ctx, u.ID, manager.ID))
	res, err = st.Roles().ResolveUserPermissions(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, []string{"ventas:read"}, res.Permissions)
}

func TestRefreshTokens(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	u := seedUser(t, st, "erin")

	tok := domain.RefreshToken{
		ID:        idx.New().String(),
		UserID:    u.ID,
		TokenHash: "fingerprint-1",
		ExpiresAt: t0.Add(time.Hour),
		CreatedAt: t0,
	}
	require.NoError(t, st.RefreshTokens().CreateRefreshToken(ctx, tok))

	got, err := st.RefreshTokens().GetRefreshTokenByHash(ctx, "fingerprint-1")
	require.NoError(t, err)
	require.True(t, got.Valid(t0))

	revoked, err := st.RefreshTokens().RevokeRefreshToken(ctx, "fingerprint-1", t0)
	require.NoError(t, err)
	require.True(t, revoked)

	revoked, err = st.RefreshTokens().RevokeRefreshToken(ctx, "fingerprint-1", t0)
	require.NoError(t, err)
	require.False(t, revoked)

	revoked, err = st.RefreshTokens().RevokeRefreshToken(ctx, "unknown", t0)
	require.NoError(t, err)
	require.False(t, revoked)

	got, err = st.RefreshTokens().GetRefreshTokenByHash(ctx, "fingerprint-1")
	require.NoError(t, err)
	require.True(t, got.Revoked)
	require.NotNil(t, got.RevokedAt)

	n, err := st.RefreshTokens().DeleteExpiredRefreshTokens(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestPasswordHistoryPrune(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	u := seedUser(t, st, "frank")

	for i := range 8 {
		at := t0.Add(time.Duration(i) * time.Minute)
		require.NoError(t, st.PasswordHistory().AddPasswordHistory(ctx, domain.PasswordHistoryEntry{
			ID:           idx.NewAt(at).String(),
			UserID:       u.ID,
			PasswordHash: string(rune('a' + i)),
			CreatedAt:    at,
		}))
	}

	n, err := st.PasswordHistory().PrunePasswordHistory(ctx, u.ID, 6)
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	entries, err := st.PasswordHistory().ListRecentPasswordHistory(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 6)
	require.Equal(t, "h", entries[0].PasswordHash)
	require.Equal(t, "c", entries[5].PasswordHash)
}

func TestLoginAttempts(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	u := seedUser(t, st, "gina")

	reason := domain.ReasonInvalidCredentials
	for i := range 3 {
		require.NoError(t, st.LoginAttempts().RecordLoginAttempt(ctx, domain.LoginAttempt{
			ID:            idx.New().String(),
			UserID:        &u.ID,
			Identifier:    "gina",
			IPAddress:     "10.0.0.2",
			FailureReason: &reason,
			CreatedAt:     t0.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, st.LoginAttempts().RecordLoginAttempt(ctx, domain.LoginAttempt{
		ID:         idx.New().String(),
		Identifier: "nobody",
		IPAddress:  "10.0.0.3",
		CreatedAt:  t0,
	}))

	n, err := st.LoginAttempts().CountFailuresSince(ctx, u.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 2, n)

	rows, err := st.LoginAttempts().ListLoginAttempts(ctx, domain.LoginAttemptFilter{UserID: u.ID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, t0.Add(2*time.Minute).Equal(rows[0].CreatedAt))
	require.Equal(t, domain.ReasonInvalidCredentials, *rows[0].FailureReason)

	rows, err = st.LoginAttempts().ListLoginAttempts(ctx, domain.LoginAttemptFilter{Identifier: "nobody"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Nil(t, rows[0].UserID)

	deleted, err := st.LoginAttempts().DeleteLoginAttemptsBefore(ctx, t0.Add(time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
}

func TestSigningKeys(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)

	for i, kid := range []string{"k1", "k2"} {
		require.NoError(t, st.SigningKeys().CreateSigningKey(ctx, domain.SigningKey{
			ID:               idx.New().String(),
			Kid:              kid,
			Algorithm:        "EdDSA",
			PrivateKeySealed: []byte{1, 2, 3},
			CreatedAt:        t0.Add(time.Duration(i) * time.Second),
		}))
	}
	require.NoError(t, st.SigningKeys().RetireSigningKey(ctx, "k1", t0, t0.Add(time.Hour)))
	require.ErrorIs(t, st.SigningKeys().RetireSigningKey(ctx, "k1", t0, t0.Add(time.Hour)), store.ErrNotFound)

	keys, err := st.SigningKeys().ListSigningKeys(ctx, t0)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	require.Equal(t, "k2", keys[0].Kid)

	keys, err = st.SigningKeys().ListSigningKeys(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, keys, 1)

	n, err := st.SigningKeys().DeleteExpiredSigningKeys(ctx, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = st.SigningKeys().GetSigningKeyByKid(ctx, "k1")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	boom := errors.New("boom")

	err := st.WithTx(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Roles().CreateRole(ctx, domain.Role{
			ID: idx.New().String(), Name: "temp", DisplayName: "temp", Active: true, CreatedAt: t0, UpdatedAt: t0,
		}))
		return boom
	})
	require.ErrorIs(t, err, boom)

	empty, err := st.Roles().IsEmpty(ctx)
	require.NoError(t, err)
	require.True(t, empty)
}
