package http

import (
	"net/http"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/service"
	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
)

type RolesHandler struct {
	RolesService *service.RolesService
}

// HandleList handles GET /v1/roles.
func (h *RolesHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	roles, err := h.RolesService.ListRoles(r.Context())
	if err != nil {
		writeServiceError(w, r, "list roles", err)
		return
	}

	out := make([]authsdk.RoleResponse, len(roles))
	for i, role := range roles {
		out[i] = roleResponse(role)
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

// HandleGet handles GET /v1/roles/{name}.
func (h *RolesHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	role, err := h.RolesService.GetRole(r.Context(), r.PathValue("name"))
	if err != nil {
		writeServiceError(w, r, "get role", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, roleResponse(role))
}

func roleResponse(role domain.Role) authsdk.RoleResponse {
	perms := role.Permissions
	if perms == nil {
		perms = []string{}
	}
	return authsdk.RoleResponse{
		Name:        role.Name,
		DisplayName: role.DisplayName,
		Description: role.Description,
		Permissions: perms,
	}
}
