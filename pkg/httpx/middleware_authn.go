package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

// AccessVerifier validates a raw bearer access token.
type AccessVerifier interface {
	VerifyAccess(ctx context.Context, raw string) (*jwtx.Claims, error)
}

// AuthnMiddleware rejects requests without a valid bearer access token and
// stores the claims in the request context.
func AuthnMiddleware(v AccessVerifier) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			raw, ok := BearerToken(r)
			if !ok {
				writeBearerError(w, "missing bearer token")
				return
			}

			claims, err := v.VerifyAccess(ctx, raw)
			if err != nil {
				slogx.FromContext(ctx).Warn("access token rejected", "err", err)
				writeBearerError(w, "token verification failed")
				return
			}

			ctx = WithClaims(ctx, claims)
			ctx = slogx.WithAttrs(ctx, "user_id", claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	WriteError(w, http.StatusUnauthorized, "invalid_token", desc)
}
