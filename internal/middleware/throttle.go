package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"edu-auth-service/internal/metrics"
	"edu-auth-service/internal/model"
	"edu-auth-service/internal/throttle"
)

// KeyFunc derives the throttle identifier for a request.
type KeyFunc func(r *http.Request) string

func ByClientIP(r *http.Request) string {
	return "ip:" + extractClientIP(r)
}

// ByUserID keys on the authenticated identity; unauthenticated requests fall
// back to the client IP so the scope still bounds them.
func ByUserID(r *http.Request) string {
	if identity, ok := IdentityFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(identity.ID, 10)
	}
	return "ip:" + extractClientIP(r)
}

// Throttle enforces a fixed-window limit for the scope. Store failures fail
// open: the request proceeds and the failure is logged.
func Throttle(guard *throttle.Guard, scope string, key KeyFunc) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := guard.Check(r.Context(), scope, key(r))
			if err != nil {
				slog.Warn("throttle store unavailable", "scope", scope, "error", err)
			}

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			}

			if !decision.Allowed {
				metrics.ThrottleRejections.WithLabelValues(scope).Inc()

				retryAfter := int64(decision.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}

				w.Header().Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				writeJSONError(w, http.StatusTooManyRequests, &model.APIError{
					Code:       "RATE_LIMITED",
					Message:    "Too many requests",
					RetryAfter: retryAfter,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
