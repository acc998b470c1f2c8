package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
)

// KeyRotationHandler handles key rotation for both ephemeral and persistent
// key managers. Every endpoint requires keys:manage.
type KeyRotationHandler struct {
	KeyRotationService *service.KeyRotationService
}

// HandleRotate handles POST /v1/keys/rotate. An empty body rotates without
// retiring anything.
func (h *KeyRotationHandler) HandleRotate(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RotateKeyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		errInvalidBody.WriteError(w)
		return
	}

	resp, err := h.KeyRotationService.RotateKey(r.Context(), service.RotateKeyRequest{
		RetireExisting: req.RetireExisting,
	})
	if err != nil {
		writeServiceError(w, r, "rotate key", err)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, authsdk.RotateKeyResponse{
		NewKey:      sdkKey(resp.NewKey),
		RetiredKeys: sdkKeys(resp.RetiredKeys),
		ActiveKeys:  resp.ActiveKeys,
	})
}

// HandleListKeys handles GET /v1/keys.
func (h *KeyRotationHandler) HandleListKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.KeyRotationService.ListKeys(r.Context())
	if err != nil {
		writeServiceError(w, r, "list keys", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, sdkKeys(keys))
}

// HandleRetireKey handles POST /v1/keys/{kid}/retire.
func (h *KeyRotationHandler) HandleRetireKey(w http.ResponseWriter, r *http.Request) {
	if err := h.KeyRotationService.RetireKey(r.Context(), r.PathValue("kid")); err != nil {
		writeServiceError(w, r, "retire key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func sdkKey(k service.KeyInfo) authsdk.SigningKeyInfo {
	return authsdk.SigningKeyInfo{
		Kid:       k.Kid,
		Algorithm: k.Algorithm,
		CreatedAt: k.CreatedAt,
		RetiredAt: k.RetiredAt,
		ExpiresAt: k.ExpiresAt,
	}
}

func sdkKeys(keys []service.KeyInfo) []authsdk.SigningKeyInfo {
	out := make([]authsdk.SigningKeyInfo, len(keys))
	for i, k := range keys {
		out[i] = sdkKey(k)
	}
	return out
}
