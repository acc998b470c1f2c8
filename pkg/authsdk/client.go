package authsdk

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// SDKClient is a client for the stockroom authentication service. It covers
// the unauthenticated endpoints and creates Sessions for the rest.
type SDKClient struct {
	BaseURL    string
	HTTPClient *http.Client

	// UserAgent is sent on every request and ends up in the login ledger.
	UserAgent string
}

func NewSDKClient(baseURL string) *SDKClient {
	return &SDKClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		UserAgent: "stockroom-authsdk",
	}
}

// Login authenticates with a username or email and a password. It returns
// ErrMFARequired when the account needs a second factor.
func (c *SDKClient) Login(ctx context.Context, identifier, password string) (*Session, error) {
	return c.LoginWithMFA(ctx, identifier, password, "")
}

// LoginWithMFA authenticates with both factors in one call.
func (c *SDKClient) LoginWithMFA(ctx context.Context, identifier, password, code string) (*Session, error) {
	var resp LoginResponse
	err := c.call(ctx, http.MethodPost, "/v1/auth/login",
		LoginRequest{Identifier: identifier, Password: password, MFACode: code},
		&resp, http.StatusOK)
	if err != nil {
		return nil, err
	}
	if resp.MFARequired {
		return nil, ErrMFARequired
	}
	return newSession(c, &resp.TokenResponse), nil
}

// Refresh exchanges a refresh token for a new access token.
func (c *SDKClient) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	var resp TokenResponse
	if err := c.call(ctx, http.MethodPost, "/v1/auth/refresh",
		RefreshRequest{RefreshToken: refreshToken}, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes a refresh token. Unknown tokens are not an error.
func (c *SDKClient) Logout(ctx context.Context, refreshToken string) error {
	return c.call(ctx, http.MethodPost, "/v1/auth/logout",
		LogoutRequest{RefreshToken: refreshToken}, nil, http.StatusNoContent)
}

// Register creates a self-service account with the default role.
func (c *SDKClient) Register(ctx context.Context, req RegisterRequest) (*UserResponse, error) {
	var resp UserResponse
	if err := c.call(ctx, http.MethodPost, "/v1/auth/register", req, &resp, http.StatusCreated); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Bootstrap seeds an empty service. token must match the server's
// configured bootstrap token.
func (c *SDKClient) Bootstrap(ctx context.Context, token string, req BootstrapRequest) (*BootstrapResponse, error) {
	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/bootstrap", req)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("X-Bootstrap-Token", token)

	resp, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	var out BootstrapResponse
	if err := decodeJSON(resp, &out, http.StatusCreated); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *SDKClient) GetJWKS(ctx context.Context) (*JWKSResponse, error) {
	var resp JWKSResponse
	if err := c.call(ctx, http.MethodGet, "/.well-known/jwks.json", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *SDKClient) GetLiveness(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.call(ctx, http.MethodGet, "/livez", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *SDKClient) GetReadiness(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.call(ctx, http.MethodGet, "/readyz", nil, &resp, http.StatusOK); err != nil {
		return nil, err
	}
	return &resp, nil
}

// NewSessionFromTokens resumes a session from stored tokens.
func (c *SDKClient) NewSessionFromTokens(accessToken, refreshToken string, expiresIn int64) *Session {
	return newSession(c, &TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    expiresIn,
	})
}
