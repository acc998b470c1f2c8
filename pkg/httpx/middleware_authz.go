package httpx

import (
	"net/http"
	"strings"

	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

// Authorizer decides whether claims satisfy every required permission.
type Authorizer interface {
	Authorize(claims *jwtx.Claims, required []string) bool
}

// RequirePermissions must run after AuthnMiddleware.
func RequirePermissions(a Authorizer, required ...string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			if !a.Authorize(claims, required) {
				slogx.FromContext(r.Context()).Warn("permission denied",
					"required", required,
					"roles", claims.Roles,
				)
				w.Header().Set("WWW-Authenticate",
					`Bearer error="insufficient_scope", scope="`+strings.Join(required, " ")+`"`)
				WriteError(w, http.StatusForbidden, "permission_denied", "missing required permission")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
