package middleware

import (
	"net/http"
)

// DefaultMaxBodySize bounds GraphQL POST bodies.
const DefaultMaxBodySize = 1 << 20

// BodyLimitConfig configures body size limiting.
type BodyLimitConfig struct {
	MaxSize int64 // Maximum body size in bytes (default: 1MB)
}

// DefaultBodyLimitConfig returns default body limit configuration.
func DefaultBodyLimitConfig() BodyLimitConfig {
	return BodyLimitConfig{MaxSize: DefaultMaxBodySize}
}

// BodyLimitMiddleware rejects bodies whose declared length exceeds the limit
// and caps the rest with http.MaxBytesReader, so a handler reading past the
// limit gets an *http.MaxBytesError.
func BodyLimitMiddleware(cfg BodyLimitConfig) func(http.Handler) http.Handler {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxBodySize
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil || r.Body == http.NoBody {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > cfg.MaxSize {
				http.Error(w, "Request Entity Too Large", http.StatusRequestEntityTooLarge)
				return
			}

			r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxSize)
			next.ServeHTTP(w, r)
		})
	}
}
