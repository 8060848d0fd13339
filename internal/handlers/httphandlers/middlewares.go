package httphandlers

import (
	"crypto/subtle"
	"net/http"

	"github.com/abhirajkale-hub/plaque-e-com-sub002/internal/custom_errors"
	"github.com/abhirajkale-hub/plaque-e-com-sub002/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoggingMiddleware puts a fresh logger with a request id and a correlation id
// into the request context. The correlation id is echoed on 5xx responses so
// support can find the matching log lines without exposing internals.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := logger.New(r.Context())
		if err != nil {
			ctx = r.Context()
			logger.GetOrCreateLoggerFromCtx(ctx).Error(ctx, "error creating logger for request",
				zap.Error(err))
		}

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx = logger.WithRequestID(ctx, requestID)
		ctx = logger.WithCorrelationID(ctx, uuid.NewString())

		logger.GetOrCreateLoggerFromCtx(ctx).Info(ctx, "request",
			zap.String("method", r.Method), zap.String("path", r.URL.Path))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AdminAuthMiddleware guards admin-only endpoints with a static bearer token,
// compared in constant time
func AdminAuthMiddleware(adminToken string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied := r.Header.Get("Authorization")
			expected := "Bearer " + adminToken
			if adminToken == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) != 1 {
				writeError(w, r, &customerrors.AuthError{Message: "admin authorization required"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
