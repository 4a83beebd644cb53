// Package shield provides the HTTP middleware that guards the local control
// API: security headers, request body limits, request IDs and a same-origin
// check that keeps pages open in the supervised browser from flipping
// preferences behind the user's back.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.ControlStack() {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultMaxBody bounds control API request bodies.
const DefaultMaxBody = 64 << 10

// ControlStack returns the standard middleware stack for the control API.
// Order: HeadToGet, RequestID, SecurityHeaders, MaxBody, LocalOrigin.
func ControlStack() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		RequestID,
		SecurityHeaders(APIHeaders()),
		MaxBody(DefaultMaxBody),
		LocalOrigin(),
	}
}

// HeadToGet lets GET routes answer HEAD probes instead of 405.
// net/http drops the body for HEAD responses.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
