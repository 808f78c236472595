package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/agentoven/data-agent/pkg/contracts"
	pkgmw "github.com/agentoven/agentoven/data-agent/pkg/middleware"
	"github.com/rs/zerolog/log"
)

// AuthMiddleware authenticates requests with the pluggable
// AuthProviderChain and stores the resulting Identity in context.
type AuthMiddleware struct {
	chain       contracts.AuthProviderChain
	requireAuth bool
}

// NewAuthMiddleware creates the auth middleware. With requireAuth set,
// unauthenticated requests to non-public paths are rejected.
func NewAuthMiddleware(chain contracts.AuthProviderChain, requireAuth bool) *AuthMiddleware {
	return &AuthMiddleware{
		chain:       chain,
		requireAuth: requireAuth,
	}
}

// Handler returns the HTTP handler middleware that authenticates requests.
func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.chain.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("Authentication failed")
			respondUnauthorized(w, "authentication_failed", "Invalid credentials.")
			return
		}

		if identity == nil && am.requireAuth {
			respondUnauthorized(w, "authentication_required",
				"This endpoint requires authentication. Set Authorization: Bearer <key>, X-API-Key, or X-Service-Token header.")
			return
		}

		// nil identity means anonymous
		if identity != nil {
			noteCaller(r.Context(), identity.Subject)
		}
		next.ServeHTTP(w, r.WithContext(pkgmw.SetIdentity(r.Context(), identity)))
	})
}

func respondUnauthorized(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="agentoven"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   code,
		"message": message,
	})
}

// isAuthPublicPath returns true for paths that should skip authentication.
func isAuthPublicPath(path string) bool {
	switch path {
	case "/health", "/version":
		return true
	}
	return false
}
