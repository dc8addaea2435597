package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request ID in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestID returns the ID assigned to the request by AccessLogMiddleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// AccessLogConfig configures access logging.
type AccessLogConfig struct {
	Logger       *slog.Logger
	SkipPaths    []string // paths to skip logging
	LogHeaders   []string // headers to include in logs
	IncludeQuery bool     // include query parameters
}

// DefaultAccessLogConfig returns default access log configuration.
func DefaultAccessLogConfig() AccessLogConfig {
	return AccessLogConfig{
		Logger:     slog.Default(),
		SkipPaths:  []string{"/health", "/metrics"},
		LogHeaders: []string{"User-Agent"},
	}
}

// accessLogResponseWriter wraps http.ResponseWriter to capture response info.
type accessLogResponseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (w *accessLogResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *accessLogResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

// Flush implements http.Flusher.
func (w *accessLogResponseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// AccessLogMiddleware assigns every request an ID and logs it once the
// response has been written. Server errors log at error level, client errors
// at warn.
func AccessLogMiddleware(cfg AccessLogConfig) func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skip[path] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))

			if skip[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			lrw := &accessLogResponseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(lrw, r)

			attrs := []slog.Attr{
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", lrw.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int("size", lrw.size),
				slog.String("remote_addr", getClientIP(r)),
				slog.String("protocol", r.Proto),
			}

			if cfg.IncludeQuery && r.URL.RawQuery != "" {
				attrs = append(attrs, slog.String("query", r.URL.RawQuery))
			}

			for _, header := range cfg.LogHeaders {
				if val := r.Header.Get(header); val != "" {
					attrs = append(attrs, slog.String("header_"+header, val))
				}
			}

			level := slog.LevelInfo
			switch {
			case lrw.statusCode >= 500:
				level = slog.LevelError
			case lrw.statusCode >= 400:
				level = slog.LevelWarn
			}
			cfg.Logger.LogAttrs(r.Context(), level, "request completed", attrs...)
		})
	}
}

// getClientIP extracts the client IP from the request. Fly's proxy sets
// Fly-Client-IP; X-Forwarded-For is honoured for other deployments.
func getClientIP(r *http.Request) string {
	if ip := r.Header.Get("Fly-Client-IP"); ip != "" {
		return ip
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	return r.RemoteAddr
}
