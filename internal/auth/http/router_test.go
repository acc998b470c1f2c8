package http_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	authhttp "github.com/aussiebroadwan/stockroom/internal/auth/http"
	"github.com/aussiebroadwan/stockroom/internal/auth/metrics"
	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const (
	bootstrapToken = "seed-token"
	adminPassword  = "R00t!Password-Seed"
	alicePassword  = "Str0ng!Passw0rd"
)

type server struct {
	*authsdk.SDKClient
	adminID string
	admin   *authsdk.Session
}

// newServer wires the full stack over an in-memory SQLite store and
// bootstraps a "root" super administrator. Rate limits are off unless an
// option sets them.
func newServer(t *testing.T, opts ...func(*authhttp.Router)) *server {
	t.Helper()

	st, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, st.ApplyMigrations())
	t.Cleanup(func() { _ = st.Close() })

	km, err := jwtx.NewEphemeralKeyManager(jwtx.KeyManagerOptions{
		Algorithm: jwtx.AlgorithmEdDSA,
		Issuer:    "stockroom-test",
		NumKeys:   1,
	})
	require.NoError(t, err)

	hasher := cryptox.NewBcryptHasher(4)
	m := metrics.New(prometheus.NewRegistry())
	passwords := &service.PasswordPolicyService{Policy: service.DefaultPasswordPolicy(), Hasher: hasher}
	ledger := &service.LoginLedger{Store: st}
	lockout := &service.LockoutService{
		Store:   st,
		Ledger:  ledger,
		Policy:  service.LockoutPolicy{MaxAttempts: 5, LockDuration: 15 * time.Minute},
		Metrics: m,
	}
	mfa := &service.MFAService{Store: st, Hasher: hasher, Issuer: "Stockroom", Metrics: m}
	resolver := &service.PermissionResolver{Store: st}
	tokens := &service.TokenService{
		KeyManager: km,
		Store:      st,
		Resolver:   resolver,
		Issuer:     "stockroom-test",
		Metrics:    m,
	}
	roles := &service.RolesService{Store: st}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := authhttp.NewRouter(km, "test", st, logger)
	r.Limits = authhttp.Limits{}
	r.Metrics = m
	r.AuthService = &service.AuthService{
		Store:    st,
		Hasher:   hasher,
		Lockout:  lockout,
		Ledger:   ledger,
		MFA:      mfa,
		Tokens:   tokens,
		Resolver: resolver,
		Metrics:  m,
	}
	r.TokenService = tokens
	r.UserService = &service.UserService{
		Store:       st,
		Hasher:      hasher,
		Passwords:   passwords,
		Tokens:      tokens,
		DefaultRole: service.DefaultRole,
		Metrics:     m,
	}
	r.Resolver = resolver
	r.MFAService = mfa
	r.LockoutService = lockout
	r.Ledger = ledger
	r.RolesService = roles
	r.BootstrapService = &service.BootstrapService{
		Store:     st,
		Roles:     roles,
		Passwords: passwords,
		Token:     bootstrapToken,
	}
	r.KeyRotationService = &service.KeyRotationService{KeyManager: km}
	for _, opt := range opts {
		opt(r)
	}
	r.ApplyRoutes()

	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	s := &server{SDKClient: authsdk.NewSDKClient(ts.URL)}
	resp, err := s.Bootstrap(t.Context(), bootstrapToken, authsdk.BootstrapRequest{
		AdminUsername: "root",
		AdminEmail:    "root@stockroom.test",
		AdminPassword: adminPassword,
	})
	require.NoError(t, err)
	s.adminID = resp.AdminUserID

	s.admin, err = s.Login(t.Context(), "root", adminPassword)
	require.NoError(t, err)
	return s
}

func (s *server) register(t *testing.T, username string) *authsdk.UserResponse {
	t.Helper()
	u, err := s.Register(t.Context(), authsdk.RegisterRequest{
		Username: username,
		Email:    username + "@stockroom.test",
		Password: alicePassword,
	})
	require.NoError(t, err)
	return u
}

func requireCode(t *testing.T, err error, status int, code string) {
	t.Helper()
	var apiErr *authsdk.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, status, apiErr.StatusCode)
	require.Equal(t, code, apiErr.Code)
}

func TestBootstrap(t *testing.T) {
	s := newServer(t)

	_, err := s.Bootstrap(t.Context(), "wrong", authsdk.BootstrapRequest{
		AdminUsername: "again", AdminEmail: "again@stockroom.test", AdminPassword: adminPassword,
	})
	requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeBootstrapForbidden)

	_, err = s.Bootstrap(t.Context(), bootstrapToken, authsdk.BootstrapRequest{
		AdminUsername: "again", AdminEmail: "again@stockroom.test", AdminPassword: adminPassword,
	})
	requireCode(t, err, http.StatusConflict, authsdk.ErrorCodeAlreadyBootstrapped)

	me, err := s.admin.Me(t.Context())
	require.NoError(t, err)
	require.Equal(t, s.adminID, me.ID)
	require.Equal(t, "root", me.Username)
	require.Equal(t, []string{service.DefaultBypassRole}, me.Roles)
}

func TestLogin(t *testing.T) {
	s := newServer(t)
	alice := s.register(t, "alice")

	t.Run("by email", func(t *testing.T) {
		sess, err := s.Login(t.Context(), "alice@stockroom.test", alicePassword)
		require.NoError(t, err)
		require.NotEmpty(t, sess.RefreshToken())
		require.True(t, sess.HasPermission("sales:create"))
		require.False(t, sess.HasPermission("users:read"))
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.Login(t.Context(), "nobody", alicePassword)
		requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := s.Login(t.Context(), "", "")
		requireCode(t, err, http.StatusBadRequest, authsdk.ErrorCodeInvalidRequest)
	})

	t.Run("lockout and unlock", func(t *testing.T) {
		for range 5 {
			_, err := s.Login(t.Context(), "alice", "wrong")
			requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
		}
		_, err := s.Login(t.Context(), "alice", alicePassword)
		requireCode(t, err, http.StatusLocked, authsdk.ErrorCodeAccountLocked)

		st, err := s.admin.LockStatus(t.Context(), alice.ID)
		require.NoError(t, err)
		require.True(t, st.Locked)
		require.Equal(t, 5, st.FailedLoginAttempts)

		require.NoError(t, s.admin.Unlock(t.Context(), alice.ID))
		_, err = s.Login(t.Context(), "alice", alicePassword)
		require.NoError(t, err)

		attempts, err := s.admin.LoginAttempts(t.Context(), alice.ID, 3)
		require.NoError(t, err)
		require.Len(t, attempts, 3)
		require.True(t, attempts[0].Success)
		require.Equal(t, "account_locked", *attempts[1].FailureReason)
		require.Equal(t, "invalid_credentials", *attempts[2].FailureReason)
	})

	t.Run("deactivated", func(t *testing.T) {
		require.NoError(t, s.admin.SetActive(t.Context(), alice.ID, false))
		_, err := s.Login(t.Context(), "alice", alicePassword)
		requireCode(t, err, http.StatusForbidden, authsdk.ErrorCodeAccountDeactivated)
		require.NoError(t, s.admin.SetActive(t.Context(), alice.ID, true))
	})
}

func TestLoginRateLimit(t *testing.T) {
	s := newServer(t, func(r *authhttp.Router) {
		r.Limits.Login = httpx.RateLimitConfig{RequestsPerWindow: 2, Window: time.Minute, Burst: 2}
	})
	s.register(t, "alice")

	for range 2 {
		_, err := s.Login(t.Context(), "alice", "wrong")
		requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)
	}
	_, err := s.Login(t.Context(), "ALICE", alicePassword)
	requireCode(t, err, http.StatusTooManyRequests, authsdk.ErrorCodeRateLimitExceeded)

	// keyed per identifier: root has one request left
	_, err = s.Login(t.Context(), "root", adminPassword)
	require.NoError(t, err)
}

func TestRegister(t *testing.T) {
	s := newServer(t)

	_, err := s.Register(t.Context(), authsdk.RegisterRequest{
		Username: "weak", Email: "weak@stockroom.test", Password: "short",
	})
	requireCode(t, err, http.StatusUnprocessableEntity, authsdk.ErrorCodePolicyViolation)
	var apiErr *authsdk.APIError
	require.True(t, errors.As(err, &apiErr))
	require.NotEmpty(t, apiErr.Reasons)

	s.register(t, "alice")
	_, err = s.Register(t.Context(), authsdk.RegisterRequest{
		Username: "alice", Email: "other@stockroom.test", Password: alicePassword,
	})
	requireCode(t, err, http.StatusConflict, "user_exists")
}

func TestRefreshAndLogout(t *testing.T) {
	s := newServer(t)
	s.register(t, "alice")

	sess, err := s.Login(t.Context(), "alice", alicePassword)
	require.NoError(t, err)
	refresh := sess.RefreshToken()

	tok, err := s.Refresh(t.Context(), refresh)
	require.NoError(t, err)
	require.NotEmpty(t, tok.AccessToken)
	require.Equal(t, "Bearer", tok.TokenType)
	require.Equal(t, []string{service.DefaultRole}, tok.Roles)
	require.Contains(t, tok.Permissions, "sales:create")

	require.NoError(t, sess.Logout(t.Context()))
	// idempotent
	require.NoError(t, s.Logout(t.Context(), refresh))

	_, err = s.Refresh(t.Context(), refresh)
	requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeTokenRevoked)

	_, err = s.Refresh(t.Context(), "not-a-token")
	requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeTokenMalformed)
}

func TestChangePassword(t *testing.T) {
	s := newServer(t)
	s.register(t, "alice")

	sess, err := s.Login(t.Context(), "alice", alicePassword)
	require.NoError(t, err)

	err = sess.ChangePassword(t.Context(), "wrong", "N3w!Passphrase")
	requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidCredentials)

	err = sess.ChangePassword(t.Context(), alicePassword, alicePassword)
	requireCode(t, err, http.StatusUnprocessableEntity, authsdk.ErrorCodePolicyViolation)

	require.NoError(t, sess.ChangePassword(t.Context(), alicePassword, "N3w!Passphrase"))

	_, err = s.Refresh(t.Context(), sess.RefreshToken())
	requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeTokenRevoked)

	_, err = s.Login(t.Context(), "alice", "N3w!Passphrase")
	require.NoError(t, err)
}

func TestMFA(t *testing.T) {
	s := newServer(t)
	s.register(t, "alice")

	sess, err := s.Login(t.Context(), "alice", alicePassword)
	require.NoError(t, err)

	err = sess.ActivateMFA(t.Context(), "123456")
	requireCode(t, err, http.StatusConflict, "mfa_not_enrolled")

	enr, err := sess.EnrollMFA(t.Context())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(enr.QRCode, "data:image/png;base64,"))
	require.Contains(t, enr.ProvisioningURI, "otpauth://totp/")

	code := func() string {
		c, err := totp.GenerateCode(enr.Secret, time.Now())
		require.NoError(t, err)
		return c
	}

	require.NoError(t, sess.ActivateMFA(t.Context(), code()))

	_, err = s.Login(t.Context(), "alice", alicePassword)
	require.ErrorIs(t, err, authsdk.ErrMFARequired)

	_, err = s.LoginWithMFA(t.Context(), "alice", alicePassword, "000000")
	requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeMFAInvalid)

	sess, err = s.LoginWithMFA(t.Context(), "alice", alicePassword, code())
	require.NoError(t, err)

	me, err := sess.Me(t.Context())
	require.NoError(t, err)
	require.True(t, me.MFAEnabled)

	require.NoError(t, sess.DisableMFA(t.Context(), alicePassword, code()))
	_, err = s.Login(t.Context(), "alice", alicePassword)
	require.NoError(t, err)
}

func TestPermissions(t *testing.T) {
	s := newServer(t)
	alice := s.register(t, "alice")

	sess, err := s.Login(t.Context(), "alice", alicePassword)
	require.NoError(t, err)

	_, err = sess.ListRoles(t.Context())
	requireCode(t, err, http.StatusForbidden, "permission_denied")

	anonymous := s.NewSessionFromTokens("", "", 3600)
	_, err = anonymous.Me(t.Context())
	requireCode(t, err, http.StatusUnauthorized, authsdk.ErrorCodeInvalidToken)

	roles, err := s.admin.ListRoles(t.Context())
	require.NoError(t, err)
	require.Len(t, roles, 3)

	require.NoError(t, s.admin.AssignRole(t.Context(), alice.ID, "admin"))

	// the old access token keeps its claims until refreshed
	_, err = sess.ListRoles(t.Context())
	requireCode(t, err, http.StatusForbidden, "permission_denied")

	require.NoError(t, sess.Refresh(t.Context()))
	require.True(t, sess.HasPermission("roles:read"))
	_, err = sess.ListRoles(t.Context())
	require.NoError(t, err)

	err = s.admin.AssignRole(t.Context(), alice.ID, "ghost")
	requireCode(t, err, http.StatusNotFound, "role_not_found")
}

func TestKeyRotation(t *testing.T) {
	s := newServer(t)
	ctx := context.Background()

	before, err := s.admin.ListKeys(ctx)
	require.NoError(t, err)
	require.Len(t, before, 1)

	rot, err := s.admin.RotateKey(ctx, authsdk.RotateKeyRequest{RetireExisting: true})
	require.NoError(t, err)
	require.Equal(t, 1, rot.ActiveKeys)
	require.Len(t, rot.RetiredKeys, 1)

	jwks, err := s.GetJWKS(ctx)
	require.NoError(t, err)
	kids := make([]string, 0, len(jwks.Keys))
	for _, k := range jwks.Keys {
		kids = append(kids, k.Kid)
	}
	require.Contains(t, kids, rot.NewKey.Kid)
	require.Contains(t, kids, before[0].Kid)

	// tokens signed by the retired key still verify
	_, err = s.admin.Me(ctx)
	require.NoError(t, err)

	err = s.admin.RetireKey(ctx, rot.NewKey.Kid)
	requireCode(t, err, http.StatusConflict, "last_signing_key")

	err = s.admin.RetireKey(ctx, "missing")
	requireCode(t, err, http.StatusNotFound, "key_not_found")
}

func TestHealthAndMetrics(t *testing.T) {
	s := newServer(t)

	live, err := s.GetLiveness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", live.Status)

	ready, err := s.GetReadiness(t.Context())
	require.NoError(t, err)
	require.Equal(t, "ok", ready.Checks.Database)
	require.Equal(t, "ok", ready.Checks.Signer)

	resp, err := http.Get(s.BaseURL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `auth_login_attempts_total{outcome="authenticated"} 1`)
	require.Contains(t, string(body), `path="POST /v1/auth/login"`)
}
