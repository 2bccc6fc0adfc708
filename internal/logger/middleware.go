package logger

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/debridrelay/debridrelay/internal/errors"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer, which the
// websocket upgrade needs for hijacking.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingMiddleware logs HTTP requests. Probe traffic and websocket upgrades
// are passed through unlogged.
func LoggingMiddleware(next http.Handler) http.Handler {
	log := Default().WithComponent("http")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/health") || r.URL.Path == "/ws" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"query":       sanitizeQuery(r.URL.RawQuery),
			"remote_ip":   getClientIP(r),
			"status":      rw.status,
			"duration_ms": time.Since(start).Milliseconds(),
		}

		if rw.status >= 400 {
			log.Warn(r.Context(), "request completed with error", fields)
		} else {
			log.Info(r.Context(), "request completed", fields)
		}
	})
}

// sanitizeQuery removes sensitive parameters from query string
func sanitizeQuery(query string) string {
	if query == "" {
		return ""
	}

	sensitiveParams := []string{"token", "password", "secret", "key", "auth"}
	parts := strings.Split(query, "&")
	sanitized := make([]string, 0, len(parts))

	for _, part := range parts {
		keyVal := strings.SplitN(part, "=", 2)
		if len(keyVal) != 2 {
			sanitized = append(sanitized, part)
			continue
		}

		isSensitive := false
		lowerKey := strings.ToLower(keyVal[0])
		for _, s := range sensitiveParams {
			if strings.Contains(lowerKey, s) {
				isSensitive = true
				break
			}
		}

		if isSensitive {
			sanitized = append(sanitized, keyVal[0]+"="+redacted)
		} else {
			sanitized = append(sanitized, part)
		}
	}

	return strings.Join(sanitized, "&")
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

// RecoveryMiddleware recovers from panics and logs them
func RecoveryMiddleware(next http.Handler) http.Handler {
	log := Default().WithComponent("recovery")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				requestID := apperrors.GetRequestID(r.Context())

				log.Error(r.Context(), "panic recovered", nil, map[string]interface{}{
					"panic":  p,
					"path":   r.URL.Path,
					"method": r.Method,
				})

				apperrors.WriteError(w, requestID, apperrors.InternalError("an unexpected error occurred"))
			}
		}()

		next.ServeHTTP(w, r)
	})
}
