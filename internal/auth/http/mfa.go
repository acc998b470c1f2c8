package http

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

// MFAHandler handles TOTP enrolment for the authenticated caller.
type MFAHandler struct {
	MFAService *service.MFAService
}

// HandleEnroll handles POST /v1/mfa/enroll. The secret is shown once and
// stays pending until activated.
func (h *MFAHandler) HandleEnroll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := httpx.UserIDFromContext(ctx)

	enrollment, err := h.MFAService.Enroll(ctx, userID)
	if err != nil {
		writeServiceError(w, r, "enroll mfa", err)
		return
	}

	slogx.FromContext(ctx).Info("mfa enrollment started")
	httpx.WriteJSON(w, http.StatusOK, authsdk.MFAEnrollResponse{
		Secret:          enrollment.Secret,
		ProvisioningURI: enrollment.ProvisioningURI,
		QRCode:          enrollment.QRCode,
		Issuer:          enrollment.Issuer,
		Account:         enrollment.Account,
	})
}

// HandleActivate handles POST /v1/mfa/activate.
func (h *MFAHandler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MFACodeRequest
	if !decode(w, r, &req) {
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		errInvalidBody.WriteError(w)
		return
	}

	if err := h.MFAService.Activate(r.Context(), httpx.UserIDFromContext(r.Context()), code); err != nil {
		writeServiceError(w, r, "activate mfa", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDisable handles POST /v1/mfa/disable. Both the password and a
// current code are required.
func (h *MFAHandler) HandleDisable(w http.ResponseWriter, r *http.Request) {
	var req authsdk.MFADisableRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Password == "" || strings.TrimSpace(req.Code) == "" {
		errInvalidBody.WriteError(w)
		return
	}

	err := h.MFAService.Disable(r.Context(), httpx.UserIDFromContext(r.Context()),
		req.Password, strings.TrimSpace(req.Code))
	if err != nil {
		writeServiceError(w, r, "disable mfa", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
