package http

import (
	"net/http"

	"github.com/aussiebroadwan/stockroom/pkg/authsdk"
	"github.com/aussiebroadwan/stockroom/pkg/httpx"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
)

// JWKSHandler publishes the public half of every key that can still verify,
// retired keys included.
func JWKSHandler(keys *jwtx.KeySet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, authsdk.JWKSResponse(keys.PublicJWKS()))
	}
}
