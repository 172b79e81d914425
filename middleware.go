package oauth

import (
	"context"
	"net/http"
	"strings"

	"github.com/giantswarm/employee-mcp-server/storage"
)

// grantContextKey is the context key for the validated access token
type grantContextKey struct{}

// ValidateToken is middleware that admits only requests carrying a valid bearer
// access token. The grant is attached to the request context; read it with
// GrantFromContext.
func (h *Handler) ValidateToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientIP := h.clientIP(r)

		if h.checkIPRateLimit(r.Context(), w, clientIP) {
			return
		}

		accessToken, ok := bearerToken(r)
		if !ok {
			h.writeError(w, ErrorCodeInvalidRequest, "Authorization required", http.StatusUnauthorized)
			return
		}

		grant, err := h.server.ValidateAccessToken(r.Context(), accessToken)
		if err != nil {
			h.logger.Debug("Token validation failed", "ip", clientIP, "error", err)
			h.writeError(w, ErrorCodeInvalidToken, "Invalid or expired access token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(ContextWithGrant(r.Context(), grant)))
	})
}

// GrantFromContext returns the access token grant attached by ValidateToken
func GrantFromContext(ctx context.Context) (*storage.AccessToken, bool) {
	grant, ok := ctx.Value(grantContextKey{}).(*storage.AccessToken)
	return grant, ok && grant != nil
}

// ContextWithGrant attaches grant to ctx
func ContextWithGrant(ctx context.Context, grant *storage.AccessToken) context.Context {
	return context.WithValue(ctx, grantContextKey{}, grant)
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
// The scheme is matched case-insensitively.
func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(r.Header.Get("Authorization"), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
