package http

import (
	"net/http"

	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
)

// MeHandler serves the caller's own account.
type MeHandler struct {
	UserService *service.UserService
	Resolver    *service.PermissionResolver
}

// HandleGet serves GET /v1/me. Roles and permissions are read from the
// store, not the token, so they may be newer than the caller's claims.
func (h *MeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := httpx.UserIDFromContext(ctx)

	u, err := h.UserService.GetUser(ctx, userID)
	if err != nil {
		writeServiceError(w, r, "load user", err)
		return
	}
	perms, err := h.Resolver.Resolve(ctx, userID)
	if err != nil {
		writeServiceError(w, r, "resolve permissions", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.MeResponse{
		UserResponse: userResponse(u),
		Roles:        perms.Roles,
		Permissions:  perms.Permissions,
	})
}

// HandleChangePassword serves POST /v1/me/password. Every refresh token of
// the user is revoked on success.
func (h *MeHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	var req authsdk.ChangePasswordRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		errInvalidBody.WriteError(w)
		return
	}

	err := h.UserService.ChangePassword(r.Context(), httpx.UserIDFromContext(r.Context()),
		req.CurrentPassword, req.NewPassword)
	if err != nil {
		writeServiceError(w, r, "change password", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
