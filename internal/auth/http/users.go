package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
)

// UsersHandler is the administrative view of other users' accounts.
type UsersHandler struct {
	UserService    *service.UserService
	LockoutService *service.LockoutService
	Ledger         *service.LoginLedger
	RolesService   *service.RolesService
}

// HandleGet handles GET /v1/users/{id}.
func (h *UsersHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	u, err := h.UserService.GetUser(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "load user", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, userResponse(u))
}

// HandleLockStatus handles GET /v1/users/{id}/lock.
func (h *UsersHandler) HandleLockStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.LockoutService.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, "lock status", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, authsdk.LockStatusResponse{
		UserID:              st.UserID,
		Locked:              st.Locked,
		LockedUntil:         st.LockedUntil,
		FailedLoginAttempts: st.FailedLoginAttempts,
		RecentFailures:      st.RecentFailures,
	})
}

// HandleUnlock handles POST /v1/users/{id}/unlock.
func (h *UsersHandler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	if err := h.LockoutService.Unlock(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, "unlock", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSetActive handles PUT /v1/users/{id}/active.
func (h *UsersHandler) HandleSetActive(w http.ResponseWriter, r *http.Request) {
	var req authsdk.SetActiveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.UserService.SetActive(r.Context(), r.PathValue("id"), req.Active); err != nil {
		writeServiceError(w, r, "set active", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDelete handles DELETE /v1/users/{id}. The row is kept for the
// ledger and hidden from every lookup.
func (h *UsersHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.UserService.SoftDelete(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, "delete user", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleLoginAttempts handles GET /v1/users/{id}/login-attempts, newest
// first. ?limit caps the page and ?failures=true drops successes.
func (h *UsersHandler) HandleLoginAttempts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := domain.LoginAttemptFilter{UserID: r.PathValue("id")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errInvalidBody.WriteError(w)
			return
		}
		f.Limit = n
	}
	f.OnlyFailure, _ = strconv.ParseBool(q.Get("failures"))

	attempts, err := h.Ledger.Recent(r.Context(), f)
	if err != nil {
		writeServiceError(w, r, "list login attempts", err)
		return
	}

	out := make([]authsdk.LoginAttemptResponse, len(attempts))
	for i, a := range attempts {
		out[i] = authsdk.LoginAttemptResponse{
			ID:         a.ID,
			UserID:     a.UserID,
			Identifier: a.Identifier,
			IPAddress:  a.IPAddress,
			UserAgent:  a.UserAgent,
			Success:    a.Success,
			CreatedAt:  a.CreatedAt,
		}
		if a.FailureReason != nil {
			reason := string(*a.FailureReason)
			out[i].FailureReason = &reason
		}
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleAssignRole handles POST /v1/users/{id}/roles.
func (h *UsersHandler) HandleAssignRole(w http.ResponseWriter, r *http.Request) {
	var req authsdk.RoleAssignmentRequest
	if !decode(w, r, &req) {
		return
	}
	role := strings.TrimSpace(req.Role)
	if role == "" {
		errInvalidBody.WriteError(w)
		return
	}
	if err := h.RolesService.Assign(r.Context(), r.PathValue("id"), role); err != nil {
		writeServiceError(w, r, "assign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUnassignRole handles DELETE /v1/users/{id}/roles/{role}.
func (h *UsersHandler) HandleUnassignRole(w http.ResponseWriter, r *http.Request) {
	if err := h.RolesService.Unassign(r.Context(), r.PathValue("id"), r.PathValue("role")); err != nil {
		writeServiceError(w, r, "unassign role", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
