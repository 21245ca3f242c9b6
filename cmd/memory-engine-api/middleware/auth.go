// Package middleware provides HTTP middleware for the memory engine API.
package middleware

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sematica-ai/memory-engine/internal/observability"
)

// AuthConfig configures bearer-token authentication. With Enabled false
// every request passes, which is the local development default.
type AuthConfig struct {
	Enabled bool
	APIKey  string
}

// Auth enforces a static bearer token on the API routes.
func Auth(cfg AuthConfig, logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			if token != cfg.APIKey {
				logger.Warn().Str("path", r.URL.Path).Msg("Rejected request with invalid token")
				unauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS returns CORS middleware for browser clients.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":   "UNAUTHORIZED",
		"reason": reason,
	})
}
