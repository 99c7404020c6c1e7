package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"mediabin/internal/observability/logging"
)

const requestIDHeader = "X-Request-Id"

// requestIDMiddleware tags each request with an identifier so log lines from
// one request can be correlated. An incoming X-Request-Id is preserved;
// otherwise a fresh one is generated and echoed on the response.
func requestIDMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return requestIDMiddlewareWithGenerator(logger, newRequestID, next)
}

func requestIDMiddlewareWithGenerator(logger *slog.Logger, generate func() string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = generate()
		}

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		ctx = logging.ContextWithLogger(ctx, logging.WithContext(ctx, logger))
		w.Header().Set(requestIDHeader, requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func newRequestID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}

func loggerWithRequestContext(logger *slog.Logger, r *http.Request) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logging.WithContext(r.Context(), logger)
}
