package middleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures preflight handling.
type CORSConfig struct {
	// AllowedMethods is sent as Access-Control-Allow-Methods.
	AllowedMethods []string

	// AllowedHeaders is sent as Access-Control-Allow-Headers. When empty the
	// request's Access-Control-Request-Headers are echoed back.
	AllowedHeaders []string

	AllowCredentials bool

	// MaxAge is how long in seconds a preflight result may be cached.
	MaxAge int
}

// DefaultCORSConfig returns the permissive preflight policy of the public
// playground APIs.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowCredentials: true,
		MaxAge:           15552000,
	}
}

// CORSMiddleware answers every OPTIONS request with an empty 204 preflight
// response. Other requests pass through; the allowed origin itself is set by
// SecurityHeadersMiddleware.
func CORSMiddleware(cfg CORSConfig) func(http.Handler) http.Handler {
	allowedMethodsStr := strings.Join(cfg.AllowedMethods, ",")
	allowedHeadersStr := strings.Join(cfg.AllowedHeaders, ",")
	maxAgeStr := strconv.Itoa(cfg.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			addVary(h, "Access-Control-Request-Headers")

			if allowedHeadersStr != "" {
				h.Set("Access-Control-Allow-Headers", allowedHeadersStr)
			} else if requested := r.Header.Get("Access-Control-Request-Headers"); requested != "" {
				h.Set("Access-Control-Allow-Headers", requested)
			}

			if cfg.AllowCredentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if allowedMethodsStr != "" {
				h.Set("Access-Control-Allow-Methods", allowedMethodsStr)
			}
			if cfg.MaxAge > 0 {
				h.Set("Access-Control-Max-Age", maxAgeStr)
			}
			h.Set("Content-Length", "0")

			w.WriteHeader(http.StatusNoContent)
		})
	}
}

// addVary appends field to the Vary header unless it is already listed or the
// header is "*".
func addVary(h http.Header, field string) {
	for _, value := range h.Values("Vary") {
		for _, existing := range strings.Split(value, ",") {
			existing = strings.TrimSpace(existing)
			if existing == "*" || strings.EqualFold(existing, field) {
				return
			}
		}
	}
	h.Add("Vary", field)
}
