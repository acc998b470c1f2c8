package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

func TestNewAccessClaims(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	c := jwtx.NewAccessClaims(jwtx.Identity{
		Subject:     "user-1",
		Username:    "alice",
		Email:       "alice@example.com",
		Roles:       []string{"almacenista"},
		Permissions: []string{"inventory:read", "products:read"},
	}, "stockroom-auth", 15*time.Minute, now)

	require.Equal(t, jwtx.UseAccess, c.TokenUse)
	require.Equal(t, "user-1", c.Subject)
	require.Equal(t, "stockroom-auth", c.Issuer)
	require.Equal(t, now, c.IssuedAt.Time)
	require.Equal(t, now.Add(15*time.Minute), c.ExpiresAt.Time)
	require.NotEmpty(t, c.ID)
	require.True(t, c.HasPermission("inventory:read"))
	require.False(t, c.HasPermission("inventory:write"))
	require.True(t, c.HasRole("almacenista"))
}

func TestNewRefreshClaims(t *testing.T) {
	now := time.Now().UTC()
	a := jwtx.NewRefreshClaims("user-1", "iss", time.Hour, now)
	b := jwtx.NewRefreshClaims("user-1", "iss", time.Hour, now)

	require.Equal(t, jwtx.UseRefresh, a.TokenUse)
	require.Empty(t, a.Permissions)
	require.Empty(t, a.Username)
	require.NotEqual(t, a.ID, b.ID)
}
