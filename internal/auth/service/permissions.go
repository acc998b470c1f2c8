package service

import (
	"context"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
)

const DefaultBypassRole = "super_admin"

// PermissionResolver computes a user's effective roles and permissions.
type PermissionResolver struct {
	Store store.Store
}

// Resolve returns the union of permissions over the user's active roles,
// sorted and deduplicated.
func (r *PermissionResolver) Resolve(ctx context.Context, userID string) (domain.ResolvedPermissions, error) {
	return r.ResolveWith(ctx, r.Store, userID)
}

// ResolveWith resolves through st, which may be a transaction.
func (r *PermissionResolver) ResolveWith(ctx context.Context, st store.Store, userID string) (domain.ResolvedPermissions, error) {
	return st.Roles().ResolveUserPermissions(ctx, userID)
}

// Guard makes authorization decisions from token claims alone. It does no
// I/O and is safe for concurrent use.
type Guard struct {
	// BypassRole satisfies every check. Empty means DefaultBypassRole.
	BypassRole string
}

func (g Guard) bypass() string {
	if g.BypassRole == "" {
		return DefaultBypassRole
	}
	return g.BypassRole
}

// Authorize is true when required is empty, when the claims carry the bypass
// role, or when every required permission is present.
func (g Guard) Authorize(claims *jwtx.Claims, required []string) bool {
	if len(required) == 0 {
		return true
	}
	if claims == nil {
		return false
	}
	if claims.HasRole(g.bypass()) {
		return true
	}
	for _, p := range required {
		if !claims.HasPermission(p) {
			return false
		}
	}
	return true
}

// Require is Authorize as an error.
func (g Guard) Require(claims *jwtx.Claims, required ...string) error {
	if !g.Authorize(claims, required) {
		return ErrPermissionDenied
	}
	return nil
}
