package errors

import (
	"net/http"
	"runtime/debug"

	"github.com/copyleftdev/nmrmix/internal/logging"
)

// RecoveryMiddleware returns a middleware that recovers from panics.
func RecoveryMiddleware(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("Recovered from panic", map[string]interface{}{
						"error":  rec,
						"stack":  string(debug.Stack()),
						"method": r.Method,
						"path":   r.URL.Path,
						"query":  r.URL.RawQuery,
					})
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// ErrorHandler is a middleware that logs every response with status >= 400.
func ErrorHandler(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.status >= http.StatusBadRequest {
				logger.Warn("Request error", map[string]interface{}{
					"status": rw.status,
					"method": r.Method,
					"path":   r.URL.Path,
					"query":  r.URL.RawQuery,
					"ip":     r.RemoteAddr,
				})
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code before writing the header.
func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
