package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/metrics"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// t0 sits on a 30 second TOTP boundary.
var t0 = time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

const (
	testIssuer    = "stockroom-test"
	adminPassword = "R00t!Password-Seed"
	alicePassword = "Str0ng!Passw0rd"
	bobPassword   = "B0b$ecretPhrase"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type testEnv struct {
	st        store.Store
	clock     *testClock
	hasher    cryptox.PasswordHasher
	km        *jwtx.KeyManager
	reg       *prometheus.Registry
	metrics   *metrics.Metrics
	passwords *PasswordPolicyService
	ledger    *LoginLedger
	lockout   *LockoutService
	mfa       *MFAService
	resolver  *PermissionResolver
	tokens    *TokenService
	auth      *AuthService
	users     *UserService
	roles     *RolesService
	bootstrap *BootstrapService
}

// newEnv wires every service over an in-memory SQLite store. Nothing is
// seeded.
func newEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    testIssuer,
		NumKeys:   1,
	})
	require.NoError(t, err)

	clock := &testClock{now: t0}
	clk := Clock(clock.Now)
	hasher := cryptox.NewBcryptHasher(4)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	e := &testEnv{st: st, clock: clock, hasher: hasher, km: km, reg: reg, metrics: m}
	e.passwords = &PasswordPolicyService{Policy: DefaultPasswordPolicy(), Hasher: hasher, Clock: clk}
	e.ledger = &LoginLedger{Store: st, Clock: clk}
	e.lockout = &LockoutService{
		Store:   st,
		Ledger:  e.ledger,
		Policy:  LockoutPolicy{MaxAttempts: DefaultMaxLoginAttempts, LockDuration: DefaultLockDuration},
		Clock:   clk,
		Metrics: m,
	}
	e.mfa = &MFAService{Store: st, Hasher: hasher, Issuer: "Stockroom", SecretSize: MinMFASecretSize, Clock: clk, Metrics: m}
	e.resolver = &PermissionResolver{Store: st}
	e.tokens = &TokenService{
		KeyManager: km,
		Store:      st,
		Resolver:   e.resolver,
		Issuer:     testIssuer,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		Clock:      clk,
		Metrics:    m,
	}
	e.auth = &AuthService{
		Store:          st,
		Hasher:         hasher,
		Lockout:        e.lockout,
		Ledger:         e.ledger,
		MFA:            e.mfa,
		Tokens:         e.tokens,
		Resolver:       e.resolver,
		PasswordMaxAge: 90 * 24 * time.Hour,
		Clock:          clk,
		Metrics:        m,
	}
	e.roles = &RolesService{Store: st, Clock: clk}
	e.users = &UserService{
		Store:       st,
		Hasher:      hasher,
		Passwords:   e.passwords,
		Tokens:      e.tokens,
		DefaultRole: DefaultRole,
		Clock:       clk,
		Metrics:     m,
	}
	e.bootstrap = &BootstrapService{
		Store:     st,
		Roles:     e.roles,
		Passwords: e.passwords,
		Token:     "seed-token",
		Clock:     clk,
	}
	return e
}

// newSeededEnv also runs the bootstrap seed: the default catalogue, roles
// and a "root" super administrator.
func newSeededEnv(t *testing.T) *testEnv {
	t.Helper()
	e := newEnv(t)
	_, err := e.bootstrap.Bootstrap(context.Background(), "seed-token", domain.BootstrapData{
		AdminUsername: "root",
		AdminEmail:    "root@stockroom.test",
		AdminPassword: adminPassword,
	})
	require.NoError(t, err)
	return e
}

func (e *testEnv) register(t *testing.T, username, password string) domain.User {
	t.Helper()
	u, err := e.users.Register(context.Background(), RegisterRequest{
		Username: username,
		Email:    username + "@stockroom.test",
		Password: password,
	})
	require.NoError(t, err)
	return u
}

func (e *testEnv) login(ctx context.Context, identifier, password, code string) (*domain.AuthResult, error) {
	return e.auth.Authenticate(ctx,
		domain.Credentials{Identifier: identifier, Password: password, MFACode: code},
		domain.ClientInfo{IPAddress: "203.0.113.7", UserAgent: "till/1.0"},
	)
}

func (e *testEnv) user(t *testing.T, id string) domain.User {
	t.Helper()
	u, err := e.st.Users().GetUserByID(context.Background(), id)
	require.NoError(t, err)
	return u
}

func totpCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	require.NoError(t, err)
	return code
}

// enableMFA enrolls and activates MFA at the current clock and returns the
// secret.
func (e *testEnv) enableMFA(t *testing.T, userID string) string {
	t.Helper()
	ctx := context.Background()
	enr, err := e.mfa.Enroll(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, e.mfa.Activate(ctx, userID, totpCode(t, enr.Secret, e.clock.Now())))
	return enr.Secret
}
