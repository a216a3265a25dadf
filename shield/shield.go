// Package shield provides the HTTP middleware wrapped around the executor
// API: security headers, CORS for the plugin iframe, body limits, request
// tracing and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultBridgeStack(logger, 16<<20) {
//	    r.Use(mw)
//	}
package shield

import (
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// DefaultBridgeStack returns the middleware for the executor API, ordered
// HeadToGet → CORS → SecurityHeaders → MaxBody → TraceID. CORS runs before
// auth so preflights never need a token.
func DefaultBridgeStack(logger *slog.Logger, maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		CORS(DefaultCORS()),
		SecurityHeaders(APIHeaders()),
		MaxBody(maxBody),
		TraceID(logger),
	}
}
