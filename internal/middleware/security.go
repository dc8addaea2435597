// Package middleware provides the HTTP middleware shared by every route.
package middleware

import (
	"net/http"
	"strconv"
)

// SecurityHeadersConfig configures the headers stamped on every response.
type SecurityHeadersConfig struct {
	ReferrerPolicy string
	HSTSMaxAge     int

	// Region is reported in the fly-region header.
	Region string

	// AllowOrigin is sent as Access-Control-Allow-Origin when non-empty.
	AllowOrigin string

	CustomHeaders map[string]string
}

// DefaultSecurityHeadersConfig returns the headers served by the public
// deployment.
func DefaultSecurityHeadersConfig() SecurityHeadersConfig {
	return SecurityHeadersConfig{
		ReferrerPolicy: "origin",
		HSTSMaxAge:     15552000, // 180 days
		Region:         "local",
		AllowOrigin:    "*",
	}
}

// SecurityHeadersMiddleware adds the configured headers before the handler
// runs, so they are present on error responses too.
func SecurityHeadersMiddleware(cfg SecurityHeadersConfig) func(http.Handler) http.Handler {
	var hsts string
	if cfg.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.Itoa(cfg.HSTSMaxAge)
	}
	region := cfg.Region
	if region == "" {
		region = "local"
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()

			if cfg.ReferrerPolicy != "" {
				h.Set("Referrer-Policy", cfg.ReferrerPolicy)
			}
			// Set regardless of r.TLS; TLS terminates at the edge proxy.
			if hsts != "" {
				h.Set("Strict-Transport-Security", hsts)
			}
			h.Set("Fly-Region", region)
			if cfg.AllowOrigin != "" {
				h.Set("Access-Control-Allow-Origin", cfg.AllowOrigin)
			}

			for k, v := range cfg.CustomHeaders {
				h.Set(k, v)
			}

			next.ServeHTTP(w, r)
		})
	}
}
