package http

import (
	"net/http"
	"strings"
)

// apiCSP forbids everything: the API only serves JSON and websocket frames.
const apiCSP = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeadersMiddleware sets the response headers every API answer
// carries. Bearer-authenticated responses must never be cached by proxies.
func SecurityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", apiCSP)
		if r.Header.Get("Authorization") != "" || strings.HasPrefix(r.URL.Path, "/auth/") {
			h.Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}
