package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"stranger/pkg/logging"
)

// RequestLogger creates a middleware that logs requests and injects the logger.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" {
				requestID = uuid.NewString()
			}

			// child logger with request details
			reqLog := log.With(
				logging.RequestID(requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("remote_addr", r.RemoteAddr),
			)
			if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
				reqLog = reqLog.With(logging.TraceID(sc.TraceID().String()))
			}

			ctx := logging.WithContext(r.Context(), reqLog)
			w.Header().Set("X-Request-ID", requestID)

			start := time.Now()
			reqLog.Debug("request started")
			next.ServeHTTP(w, r.WithContext(ctx))
			reqLog.Debug("request finished", logging.Elapsed(time.Since(start)))
		})
	}
}
