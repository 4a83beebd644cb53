package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/sage/idgen"
	"github.com/hazyhaar/sage/kit"
)

// RequestID assigns an ID to each request, unless the caller sent a valid
// X-Request-ID, and injects it into the context, the response headers and a
// per-request logger stored under LoggerKey.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if _, err := idgen.Parse(id); err != nil {
			id = kit.NewRequestID()
		}

		ctx := kit.WithRequestID(r.Context(), id)
		ctx = kit.WithTransport(ctx, "http")
		w.Header().Set("X-Request-ID", id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
