package authsdk

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"
)

// refreshMargin refreshes the access token this long before it expires.
const refreshMargin = 30 * time.Second

// Session is an authenticated session. Every method refreshes the access
// token when it is about to expire.
type Session struct {
	client *SDKClient

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	roles        []string
	permissions  []string
}

func newSession(client *SDKClient, tok *TokenResponse) *Session {
	s := &Session{client: client}
	s.apply(tok)
	return s
}

// apply stores a token response. A refresh without rotation keeps the
// current refresh token.
func (s *Session) apply(tok *TokenResponse) {
	s.accessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		s.refreshToken = tok.RefreshToken
	}
	s.expiresAt = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - refreshMargin)
	if tok.Roles != nil {
		s.roles = slices.Clone(tok.Roles)
	}
	if tok.Permissions != nil {
		s.permissions = slices.Clone(tok.Permissions)
	}
}

func (s *Session) getValidToken(ctx context.Context) (string, error) {
	s.mu.RLock()
	if time.Now().Before(s.expiresAt) {
		token := s.accessToken
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// another goroutine may have refreshed
	if time.Now().Before(s.expiresAt) {
		return s.accessToken, nil
	}
	if s.refreshToken == "" {
		return "", fmt.Errorf("access token expired and no refresh token available")
	}

	tok, err := s.client.Refresh(ctx, s.refreshToken)
	if err != nil {
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}
	s.apply(tok)
	return s.accessToken, nil
}

// Refresh forces a refresh, picking up role and permission changes.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	s.expiresAt = time.Time{}
	s.mu.Unlock()
	_, err := s.getValidToken(ctx)
	return err
}

func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refreshToken
}

// Permissions returns the permissions granted at the last login or refresh.
func (s *Session) Permissions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.permissions)
}

func (s *Session) Roles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.roles)
}

// HasPermission is a client-side hint only. The server decides.
func (s *Session) HasPermission(p string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Contains(s.permissions, p)
}

// Logout revokes the session's refresh token.
func (s *Session) Logout(ctx context.Context) error {
	refresh := s.RefreshToken()
	if refresh == "" {
		return fmt.Errorf("no refresh token to revoke")
	}
	return s.client.Logout(ctx, refresh)
}

// ============================================================================
// Self service
// ============================================================================

func (s *Session) Me(ctx context.Context) (*MeResponse, error) {
	var resp MeResponse
	if err := s.doAuthRequest(ctx, http.MethodGet, "/v1/me", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ChangePassword revokes every refresh token of the user, this session's
// included.
func (s *Session) ChangePassword(ctx context.Context, current, next string) error {
	return s.doAuthRequest(ctx, http.MethodPost, "/v1/me/password",
		ChangePasswordRequest{CurrentPassword: current, NewPassword: next}, nil, http.StatusNoContent)
}

func (s *Session) EnrollMFA(ctx context.Context) (*MFAEnrollResponse, error) {
	var resp MFAEnrollResponse
	if err := s.doAuthRequest(ctx, http.MethodPost, "/v1/mfa/enroll", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (s *Session) ActivateMFA(ctx context.Context, code string) error {
	return s.doAuthRequest(ctx, http.MethodPost, "/v1/mfa/activate",
		MFACodeRequest{Code: code}, nil, http.StatusNoContent)
}

func (s *Session) DisableMFA(ctx context.Context, password, code string) error {
	return s.doAuthRequest(ctx, http.MethodPost, "/v1/mfa/disable",
		MFADisableRequest{Password: password, Code: code}, nil, http.StatusNoContent)
}

// ============================================================================
// Administration
// ============================================================================

// Requires: users:read
func (s *Session) LockStatus(ctx context.Context, userID string) (*LockStatusResponse, error) {
	var resp LockStatusResponse
	path := "/v1/users/" + url.PathEscape(userID) + "/lock"
	if err := s.doAuthRequest(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Requires: users:update
func (s *Session) Unlock(ctx context.Context, userID string) error {
	path := "/v1/users/" + url.PathEscape(userID) + "/unlock"
	return s.doAuthRequest(ctx, http.MethodPost, path, nil, nil, http.StatusNoContent)
}

// Requires: users:update
func (s *Session) SetActive(ctx context.Context, userID string, active bool) error {
	path := "/v1/users/" + url.PathEscape(userID) + "/active"
	return s.doAuthRequest(ctx, http.MethodPut, path, SetActiveRequest{Active: active}, nil, http.StatusNoContent)
}

// Requires: users:read
func (s *Session) LoginAttempts(ctx context.Context, userID string, limit int) ([]LoginAttemptResponse, error) {
	path := "/v1/users/" + url.PathEscape(userID) + "/login-attempts"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	var resp []LoginAttemptResponse
	if err := s.doAuthRequest(ctx, http.MethodGet, path, nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp, nil
}

// Requires: roles:manage
func (s *Session) AssignRole(ctx context.Context, userID, role string) error {
	path := "/v1/users/" + url.PathEscape(userID) + "/roles"
	return s.doAuthRequest(ctx, http.MethodPost, path, RoleAssignmentRequest{Role: role}, nil, http.StatusNoContent)
}

// Requires: roles:read
func (s *Session) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	var resp []RoleResponse
	if err := s.doAuthRequest(ctx, http.MethodGet, "/v1/roles", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return resp, nil
}

// Requires: keys:manage
func (s *Session) RotateKey(ctx context.Context, req RotateKeyRequest) (*RotateKeyResponse, error) {
	var resp RotateKeyResponse
	if err := s.doAuthRequest(ctx, http.MethodPost, "/v1/keys/rotate", req, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Requires: keys:manage
func (s *Session) ListKeys(ctx context.Context) ([]SigningKeyInfo, error) {
	var keys []SigningKeyInfo
	if err := s.doAuthRequest(ctx, http.MethodGet, "/v1/keys", nil, &keys, http.StatusOK); err != nil {
		return nil, err
	}
	return keys, nil
}

// Requires: keys:manage
func (s *Session) RetireKey(ctx context.Context, kid string) error {
	path := "/v1/keys/" + url.PathEscape(kid) + "/retire"
	return s.doAuthRequest(ctx, http.MethodPost, path, nil, nil, http.StatusNoContent)
}
