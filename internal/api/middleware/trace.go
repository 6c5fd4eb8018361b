// Package middleware contains HTTP middleware applied to the router.
package middleware

import (
	"log/slog"
	"net/http"

	"github.com/corvida/tunevault/internal/api/shared"
	"github.com/corvida/tunevault/internal/platform/logger"
)

// TraceMiddleware assigns every request a trace ID and stores a
// request-scoped logger carrying it in the context. Applied first in the
// chain so all downstream handlers and error responses can correlate.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := shared.SetTraceID(r.Context())
		traceID := shared.GetTraceID(ctx)

		log := slog.With(slog.String("trace_id", traceID))
		ctx = logger.WithLogger(ctx, log)

		log.Debug("request started",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
