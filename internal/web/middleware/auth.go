package middleware

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/pemtool/internal/config"
	"github.com/JonMunkholm/pemtool/internal/core"
)

// APIKeyAuth returns middleware that validates the X-API-Key header against
// the configured keys and names the caller in the audit context as
// "key-N", N being the 1-based position of the matching key.
//
// If RequireAPIKey is false, all requests pass through.
func APIKeyAuth(cfg *config.SecurityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.RequireAPIKey {
				next.ServeHTTP(w, r)
				return
			}

			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				slog.Warn("auth: missing API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusUnauthorized, "missing API key", "AUTH_MISSING_KEY")
				return
			}

			idx := matchAPIKey(apiKey, cfg.APIKeys)
			if idx < 0 {
				slog.Warn("auth: invalid API key",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
				)
				writeAuthError(w, http.StatusForbidden, "invalid API key", "AUTH_INVALID_KEY")
				return
			}

			ctx := core.ContextWithActor(r.Context(), fmt.Sprintf("key-%d", idx+1))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// matchAPIKey returns the index of key in validKeys, or -1. Every key is
// compared in constant time so timing does not reveal which one matched.
func matchAPIKey(key string, validKeys []string) int {
	match := -1
	for i, validKey := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(validKey)) == 1 && match < 0 {
			match = i
		}
	}
	return match
}

func writeAuthError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q,"code":%q}`, msg, code)
}
