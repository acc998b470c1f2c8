package authsdk

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/stockroom/pkg/httpx"
)

// Error codes carried in the "error" field of a failed response.
const (
	ErrorCodeInvalidRequest      = "invalid_request"
	ErrorCodeInvalidCredentials  = "invalid_credentials"
	ErrorCodeAccountLocked       = "account_locked"
	ErrorCodeAccountDeactivated  = "account_deactivated"
	ErrorCodePasswordExpired     = "password_expired"
	ErrorCodeMFAInvalid          = "mfa_invalid"
	ErrorCodePolicyViolation     = "policy_violation"
	ErrorCodeTokenExpired        = "token_expired"
	ErrorCodeTokenRevoked        = "token_revoked"
	ErrorCodeTokenMalformed      = "token_malformed"
	ErrorCodeInvalidToken        = "invalid_token"
	ErrorCodeInsufficientScope   = "insufficient_scope"
	ErrorCodeConflict            = "conflict"
	ErrorCodeNotFound            = "not_found"
	ErrorCodeRateLimitExceeded   = "rate_limit_exceeded"
	ErrorCodeServerError         = "server_error"
	ErrorCodeBootstrapDisabled   = "bootstrap_disabled"
	ErrorCodeBootstrapForbidden  = "bootstrap_unauthorized"
	ErrorCodeAlreadyBootstrapped = "already_bootstrapped"
)

// ErrMFARequired is returned by Login when the account has MFA enabled and
// no code was supplied. Call LoginWithMFA with the same credentials.
var ErrMFARequired = errors.New("authsdk: mfa code required")

// APIError is a non-2xx response from the service. It is also what the
// server writes, so both sides agree on the wire shape.
type APIError struct {
	StatusCode  int      `json:"-"`
	Code        string   `json:"error"`
	Description string   `json:"error_description,omitempty"`
	Reasons     []string `json:"reasons,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (%d)", e.Code, e.StatusCode)
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if len(e.Reasons) > 0 {
		msg += " [" + strings.Join(e.Reasons, "; ") + "]"
	}
	return msg
}

// WriteError writes e as a JSON error response.
func (e *APIError) WriteError(w http.ResponseWriter) {
	httpx.WriteJSON(w, e.StatusCode, httpx.ErrorResponse{
		Error:            e.Code,
		ErrorDescription: e.Description,
		Reasons:          e.Reasons,
	})
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// parseErrorResponse turns a failed response body into an *APIError.
func parseErrorResponse(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	var errResp httpx.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{
			StatusCode:  resp.StatusCode,
			Code:        errResp.Error,
			Description: errResp.ErrorDescription,
			Reasons:     errResp.Reasons,
		}
	}

	return &APIError{
		StatusCode:  resp.StatusCode,
		Code:        ErrorCodeServerError,
		Description: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
	}
}
