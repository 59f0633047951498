package middleware

import (
	"log/slog"
	"net/http"

	"github.com/sundai-club/shop/pkg/logger"
)

// RequestLogger stores a logger enriched with the request's correlation ID,
// cart session, operator and trace IDs in the context, for handlers to fetch
// with logger.FromContext. Mount it after RequestLogging, Tracing, Session
// and (for admin routes) Auth so those values are already present.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if sub := SubjectFromContext(ctx); sub != "" {
				ctx = logger.WithOperator(ctx, sub)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
