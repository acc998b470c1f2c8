package http

import (
	"errors"
	"net/http"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

var (
	errInvalidBody = &authsdk.APIError{
		StatusCode:  http.StatusBadRequest,
		Code:        authsdk.ErrorCodeInvalidRequest,
		Description: "the request body is malformed or missing required fields",
	}
	errServer = &authsdk.APIError{
		StatusCode:  http.StatusInternalServerError,
		Code:        authsdk.ErrorCodeServerError,
		Description: "internal server error",
	}
)

// statusFor maps service errors to the wire. The code is the sentinel's
// text, so clients see the same names the service uses.
var statusFor = []struct {
	err    error
	status int
	desc   string
}{
	{service.ErrInvalidCredentials, http.StatusUnauthorized, "invalid identifier or password"},
	{service.ErrMFAInvalid, http.StatusUnauthorized, "invalid mfa code"},
	{service.ErrTokenExpired, http.StatusUnauthorized, "token expired"},
	{service.ErrTokenRevoked, http.StatusUnauthorized, "token revoked"},
	{service.ErrTokenMalformed, http.StatusUnauthorized, "token malformed"},
	{service.ErrAccountLocked, http.StatusLocked, "account temporarily locked"},
	{service.ErrAccountDeactivated, http.StatusForbidden, "account deactivated"},
	{service.ErrPasswordExpired, http.StatusForbidden, "password expired, change it to continue"},
	{service.ErrPermissionDenied, http.StatusForbidden, "missing required permission"},
	{service.ErrInvalidRequest, http.StatusBadRequest, "invalid request"},
	{service.ErrUserExists, http.StatusConflict, "username or email already taken"},
	{service.ErrMFAAlreadyEnabled, http.StatusConflict, "mfa already enabled"},
	{service.ErrMFANotEnrolled, http.StatusConflict, "mfa not enrolled"},
	{service.ErrMFANotEnabled, http.StatusConflict, "mfa not enabled"},
	{service.ErrLastSigningKey, http.StatusConflict, "cannot retire the last signing key"},
	{service.ErrUserNotFound, http.StatusNotFound, "user not found"},
	{service.ErrRoleNotFound, http.StatusNotFound, "role not found"},
	{service.ErrKeyNotFound, http.StatusNotFound, "signing key not found"},
}

// writeServiceError writes err as an APIError and logs anything that is
// not a caller-visible outcome.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var pv *service.PolicyViolationError
	if errors.As(err, &pv) {
		(&authsdk.APIError{
			StatusCode:  http.StatusUnprocessableEntity,
			Code:        authsdk.ErrorCodePolicyViolation,
			Description: "password does not meet the policy",
			Reasons:     pv.Reasons,
		}).WriteError(w)
		return
	}

	for _, m := range statusFor {
		if errors.Is(err, m.err) {
			(&authsdk.APIError{StatusCode: m.status, Code: m.err.Error(), Description: m.desc}).WriteError(w)
			return
		}
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		(&authsdk.APIError{StatusCode: http.StatusNotFound, Code: authsdk.ErrorCodeNotFound}).WriteError(w)
		return
	case errors.Is(err, store.ErrAlreadyExists):
		(&authsdk.APIError{StatusCode: http.StatusConflict, Code: authsdk.ErrorCodeConflict}).WriteError(w)
		return
	}

	slogx.FromContext(r.Context()).Error(op+" failed", "err", err)
	errServer.WriteError(w)
}

// decode reads a JSON body and answers 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := httpx.DecodeJSON(r, v); err != nil {
		slogx.FromContext(r.Context()).Warn("invalid request body", "err", err)
		errInvalidBody.WriteError(w)
		return false
	}
	return true
}

func clientInfo(r *http.Request) domain.ClientInfo {
	return domain.ClientInfo{IPAddress: httpx.ClientIP(r), UserAgent: r.UserAgent()}
}
