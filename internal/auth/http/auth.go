package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
)

// AuthHandler serves the public session endpoints under /v1/auth.
type AuthHandler struct {
	AuthService  *service.AuthService
	TokenService *service.TokenService
	UserService  *service.UserService
}

// HandleLogin serves POST /v1/auth/login. An account with MFA enabled and no
// code in the request gets 200 {"mfa_required":true} and no tokens.
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Identifier) == "" || req.Password == "" {
		errInvalidBody.WriteError(w)
		return
	}

	res, err := h.AuthService.Authenticate(r.Context(), domain.Credentials{
		Identifier: req.Identifier,
		Password:   req.Password,
		MFACode:    strings.TrimSpace(req.MFACode),
	}, clientInfo(r))
	if err != nil {
		writeServiceError(w, r, "login", err)
		return
	}

	if res.Outcome == domain.OutcomeMFARequired {
		httpx.WriteJSON(w, http.StatusOK, authsdk.LoginResponse{MFARequired: true})
		return
	}

	resp := authsdk.LoginResponse{TokenResponse: tokenResponse(res.Tokens)}
	resp.Roles = res.Permissions.Roles
	resp.Permissions = res.Permissions.Permissions
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleRefresh serves POST /v1/auth/refresh.
func (h *AuthHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RefreshRequest
	if !decode(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		errInvalidBody.WriteError(w)
		return
	}

	pair, perms, err := h.TokenService.Refresh(r.Context(), req.RefreshToken, clientInfo(r))
	if err != nil {
		writeServiceError(w, r, "refresh", err)
		return
	}

	resp := tokenResponse(pair)
	resp.Roles = perms.Roles
	resp.Permissions = perms.Permissions
	httpx.WriteJSON(w, http.StatusOK, resp)
}

// HandleLogout serves POST /v1/auth/logout. Revoking an unknown or already
// revoked token still answers 204.
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var req authsdk.LogoutRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.TokenService.Revoke(r.Context(), req.RefreshToken); err != nil {
		writeServiceError(w, r, "logout", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegister serves POST /v1/auth/register.
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RegisterRequest
	if !decode(w, r, &req) {
		return
	}

	u, err := h.UserService.Register(r.Context(), service.RegisterRequest{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, "register", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, userResponse(u))
}

func tokenResponse(p *domain.TokenPair) authsdk.TokenResponse {
	return authsdk.TokenResponse{
		AccessToken:  p.AccessToken,
		RefreshToken: p.RefreshToken,
		TokenType:    p.TokenType,
		ExpiresIn:    p.ExpiresIn,
	}
}

func userResponse(u domain.User) authsdk.UserResponse {
	return authsdk.UserResponse{
		ID:                u.ID,
		Username:          u.Username,
		Email:             u.Email,
		Active:            u.Active,
		MFAEnabled:        u.MFAEnabled,
		PasswordChangedAt: u.PasswordChangedAt,
		LastLoginAt:       u.LastLoginAt,
		CreatedAt:         u.CreatedAt,
	}
}
