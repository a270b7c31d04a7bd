package middleware

import (
	"net/http"
	"strings"
)

// Chart clients send If-Match with the chart version they edited so saves can be rejected as stale.
var corsAllowedHeaders = []string{"Authorization", "Content-Type", "If-Match"}

var corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}

// Browsers hide response headers from scripts unless they are exposed. The chart UI reads ETag
// (stored chart version), X-Chart-Warning (blank fallback after a failed load) and
// Content-Disposition (export download name).
var corsExposedHeaders = []string{"ETag", "X-Chart-Warning", "Content-Disposition"}

// CORS lets the charting UI call the API from the listed origins. "*" echoes any Origin back.
// Preflight requests from allowed origins are answered with 204 and never reach the chart routes.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAny := false
	allow := map[string]struct{}{}
	for _, origin := range allowedOrigins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		if origin == "*" {
			allowAny = true
			continue
		}
		allow[origin] = struct{}{}
	}

	allowedHeaders := strings.Join(corsAllowedHeaders, ", ")
	allowedMethods := strings.Join(corsAllowedMethods, ", ")
	exposedHeaders := strings.Join(corsExposedHeaders, ", ")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			allowed := origin != "" && (allowAny || isAllowedOrigin(allow, origin))
			if allowed {
				h := w.Header()
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
				h.Set("Access-Control-Allow-Headers", allowedHeaders)
				h.Set("Access-Control-Allow-Methods", allowedMethods)
				h.Set("Access-Control-Expose-Headers", exposedHeaders)
				h.Set("Access-Control-Max-Age", "600")
			}

			if allowed && r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func isAllowedOrigin(allow map[string]struct{}, origin string) bool {
	_, ok := allow[origin]
	return ok
}
