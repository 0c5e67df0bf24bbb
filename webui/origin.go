package webui

import (
	"net/http"
	"net/url"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// originAllowed reports whether a browser request from origin may use the
// API. Requests without an Origin header (curl, native clients) and
// same-host pages are always allowed; other origins must be listed, or the
// list must contain "*".
func originAllowed(r *http.Request, allowed []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	origin = strings.TrimSuffix(strings.ToLower(origin), "/")
	for _, a := range allowed {
		if a == "*" || strings.TrimSuffix(strings.ToLower(a), "/") == origin {
			return true
		}
	}
	return false
}

// checkOrigin guards the WebSocket upgrade; a false result makes the
// upgrader answer 403.
func (s *Server) checkOrigin(r *http.Request) bool {
	if originAllowed(r, s.config.AllowedOrigins) {
		return true
	}
	s.logger.Warn("websocket origin rejected",
		zap.String("origin", r.Header.Get("Origin")),
		zap.String("client", getClientIP(r)))
	return false
}

// corsMiddleware adds CORS headers for allowed cross-origin callers and
// answers preflight requests. Disallowed origins get no CORS headers, so
// the browser blocks the response.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && originAllowed(r, s.config.AllowedOrigins)
		if allowed {
			h := w.Header()
			if slices.Contains(s.config.AllowedOrigins, "*") {
				h.Set("Access-Control-Allow-Origin", "*")
			} else {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			if !allowed {
				w.WriteHeader(http.StatusForbidden)
				return
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
