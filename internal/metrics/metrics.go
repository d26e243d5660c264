// Package metrics exposes Prometheus counters for the auth core.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LoginAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_login_attempts_total",
		Help: "Login attempts by result.",
	}, []string{"result"})

	Registrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "auth_registrations_total",
		Help: "Successful registrations.",
	})

	TokenVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_token_verifications_total",
		Help: "Access token verifications by result.",
	}, []string{"result"})

	ThrottleRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_throttle_rejections_total",
		Help: "Requests rejected by the throttle guard, by scope.",
	}, []string{"scope"})

	PasswordResets = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_password_resets_total",
		Help: "Password reset flow transitions by stage.",
	}, []string{"stage"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
