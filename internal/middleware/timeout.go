package middleware

import (
	"net/http"
	"time"
)

// Timeout bounds how long a request may hold a worker. The canned body
// mirrors the standard error envelope because http.TimeoutHandler writes it
// after the deadline, when no encoder can run anymore.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	body := `{"success":false,"error":{"code":"REQUEST_TIMEOUT","message":"request timed out"}}`

	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, timeout, body)
	}
}
