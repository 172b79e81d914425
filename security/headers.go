package security

import (
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// SetSecurityHeaders sets security headers on OAuth responses. HSTS is only sent
// when serverURL uses https.
func SetSecurityHeaders(w http.ResponseWriter, serverURL string) {
	h := w.Header()
	h.Set("X-Frame-Options", "DENY")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
	h.Set("Referrer-Policy", "no-referrer")

	if parsed, err := url.Parse(serverURL); err == nil && parsed.Scheme == "https" {
		h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
	}

	// Token and registration responses carry credentials
	h.Set("Cache-Control", "no-store")
	h.Set("Pragma", "no-cache")
}

// corsAllowHeaders lists request headers browsers may send to the server
var corsAllowHeaders = []string{"Authorization", "Content-Type", "Mcp-Session-Id", "Mcp-Protocol-Version", RequestIDHeader}

// SetCORSHeaders applies CORS response headers for the request's Origin.
// With no allowedOrigins every origin is allowed ("*"); otherwise only listed
// origins are echoed back. Returns false if the origin is not allowed.
func SetCORSHeaders(w http.ResponseWriter, r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	h := w.Header()

	switch {
	case len(allowedOrigins) == 0:
		h.Set("Access-Control-Allow-Origin", "*")
	case origin != "" && slices.Contains(allowedOrigins, origin):
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	default:
		return origin == ""
	}

	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", strings.Join(corsAllowHeaders, ", "))
	h.Set("Access-Control-Expose-Headers", "WWW-Authenticate, Mcp-Session-Id, "+RequestIDHeader)
	h.Set("Access-Control-Max-Age", "86400")
	return true
}

// CORSMiddleware applies SetCORSHeaders to every request and answers preflight
// OPTIONS requests with 204 directly.
func CORSMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed := SetCORSHeaders(w, r, allowedOrigins)
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if allowed {
				w.WriteHeader(http.StatusNoContent)
			} else {
				w.WriteHeader(http.StatusForbidden)
			}
			return
		}
		next.ServeHTTP(w, r)
	})
}
