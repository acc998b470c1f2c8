package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

type BootstrapHandler struct {
	BootstrapService *service.BootstrapService
}

// ServeHTTP handles POST /v1/bootstrap. It seeds the default permission
// catalogue and roles and creates the first administrator. The endpoint
// answers 404 unless a bootstrap token is configured and works once.
func (h *BootstrapHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	l := slogx.FromContext(r.Context())

	if h.BootstrapService.Token == "" {
		(&authsdk.APIError{
			StatusCode:  http.StatusNotFound,
			Code:        authsdk.ErrorCodeBootstrapDisabled,
			Description: "bootstrap is not enabled",
		}).WriteError(w)
		return
	}

	token := r.Header.Get("X-Bootstrap-Token")
	if token == "" {
		(&authsdk.APIError{
			StatusCode:  http.StatusUnauthorized,
			Code:        authsdk.ErrorCodeBootstrapForbidden,
			Description: "bootstrap token is required in X-Bootstrap-Token header",
		}).WriteError(w)
		return
	}

	var req authsdk.BootstrapRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.AdminUsername) == "" || strings.TrimSpace(req.AdminEmail) == "" || req.AdminPassword == "" {
		errInvalidBody.WriteError(w)
		return
	}

	admin, err := h.BootstrapService.Bootstrap(r.Context(), token, domain.BootstrapData{
		AdminUsername: strings.TrimSpace(req.AdminUsername),
		AdminEmail:    strings.TrimSpace(req.AdminEmail),
		AdminPassword: req.AdminPassword,
	})
	switch {
	case err == nil:
	case errors.Is(err, service.ErrBootstrapUnauthorized):
		l.Warn("bootstrap rejected: bad token")
		(&authsdk.APIError{
			StatusCode:  http.StatusUnauthorized,
			Code:        authsdk.ErrorCodeBootstrapForbidden,
			Description: "invalid bootstrap token",
		}).WriteError(w)
		return
	case errors.Is(err, service.ErrBootstrapAlready):
		(&authsdk.APIError{
			StatusCode:  http.StatusConflict,
			Code:        authsdk.ErrorCodeAlreadyBootstrapped,
			Description: "system has already been bootstrapped",
		}).WriteError(w)
		return
	default:
		writeServiceError(w, r, "bootstrap", err)
		return
	}

	l.Info("bootstrap complete", "admin_user_id", admin.ID)
	httpx.WriteJSON(w, http.StatusCreated, authsdk.BootstrapResponse{
		AdminUserID:   admin.ID,
		AdminUsername: admin.Username,
	})
}
