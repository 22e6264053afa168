package logging

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Middleware returns a middleware that logs the start and end of each request
// and stores the request logger in the context.
func Middleware(logger *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			requestLogger := logger.WithFields(map[string]interface{}{
				"request_id": middleware.GetReqID(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"remote":     r.RemoteAddr,
			})
			requestLogger.Debug("Request started")

			ctx := context.WithValue(r.Context(), ctxLoggerKey{}, &CtxLogger{requestLogger})
			next.ServeHTTP(ww, r.WithContext(ctx))

			latency := time.Since(start)
			fields := map[string]interface{}{
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"latency_ms": float64(latency.Microseconds()) / 1000.0,
				"user_agent": r.UserAgent(),
			}
			if ww.Status() >= 400 {
				fields["error"] = http.StatusText(ww.Status())
			}
			requestLogger.WithFields(fields).Info("Request completed")
		})
	}
}
