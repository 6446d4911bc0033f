package security

import (
	"context"
	"net/http"
	"strings"

	"github.com/avaropoint/camlink/internal/logging"
	"github.com/avaropoint/camlink/internal/store"
)

// KeyVerifier looks up an API key by hash. store.Store satisfies it.
type KeyVerifier interface {
	VerifyAPIKey(ctx context.Context, keyHash string) (*store.APIKey, error)
}

type ctxKey struct{}

// KeyFromContext returns the API key that authenticated the request.
func KeyFromContext(ctx context.Context) (*store.APIKey, bool) {
	k, ok := ctx.Value(ctxKey{}).(*store.APIKey)
	return k, ok
}

// AuthMiddleware validates API key authentication on HTTP requests.
type AuthMiddleware struct {
	keys     KeyVerifier
	disabled bool
}

// NewAuthMiddleware creates the middleware. With required false every
// request passes through unchecked.
func NewAuthMiddleware(keys KeyVerifier, required bool) *AuthMiddleware {
	return &AuthMiddleware{keys: keys, disabled: !required}
}

// Handler wraps next so that it only runs for a valid key. The key can be
// provided via the Authorization header or the "token" query parameter,
// which browsers need for WebSocket upgrades.
func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.disabled {
			next.ServeHTTP(w, r)
			return
		}
		key := extractKey(r)
		if key == "" {
			jsonError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !LooksLikeAPIKey(key) {
			jsonError(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		apiKey, err := a.keys.VerifyAPIKey(r.Context(), HashAPIKey(key))
		if err != nil {
			logging.ErrorContext(r.Context(), "api key lookup failed", logging.Component("auth"), logging.Err(err))
			jsonError(w, "internal error", http.StatusInternalServerError)
			return
		}
		if apiKey == nil {
			jsonError(w, "invalid API key", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, apiKey)))
	})
}

// extractKey gets the API key from the request.
// Checks Authorization: Bearer <key> header first, then "token" query param.
func extractKey(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write([]byte(`{"error":"` + msg + `"}`)) //nolint:errcheck
}
