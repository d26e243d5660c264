package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"edu-auth-service/internal/config"
	"edu-auth-service/internal/handler"
	"edu-auth-service/internal/metrics"
	"edu-auth-service/internal/middleware"
	"edu-auth-service/internal/model"
	"edu-auth-service/internal/throttle"
)

type Handlers struct {
	Auth    *handler.AuthHandler
	Account *handler.AccountHandler
	User    *handler.UserHandler
	Audit   *handler.AuditHandler
	Health  *handler.HealthHandler
}

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	guard *throttle.Guard,
	h Handlers,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", h.Health.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	byIP := middleware.Throttle(guard, throttle.ScopeAuth, middleware.ByClientIP)
	byUser := middleware.Throttle(guard, throttle.ScopeSensitive, middleware.ByUserID)
	apiScope := middleware.Throttle(guard, throttle.ScopeAPI, middleware.ByUserID)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(middleware.Timeout(cfg.RequestTimeout))

		api.Route("/auth", func(auth chi.Router) {
			auth.With(byIP).Post("/login", h.Auth.Login)
			auth.With(byIP).Post("/register", h.Auth.Register)
			auth.With(byIP).Post("/refresh", h.Auth.Refresh)
			auth.With(byIP).Post("/verify", h.Auth.Introspect)
			auth.With(authMiddleware.RequireAuth, byUser).Post("/logout", h.Auth.Logout)
			auth.With(authMiddleware.RequireAuth, apiScope).Get("/me", h.Auth.Me)

			auth.Route("/password", func(password chi.Router) {
				password.With(byIP).Post("/forgot", h.Account.ForgotPassword)
				password.With(byIP).Post("/reset", h.Account.ResetPassword)
				password.With(authMiddleware.RequireAuth, byUser).Post("/change", h.Account.ChangePassword)
			})

			auth.Route("/email", func(email chi.Router) {
				email.With(byIP).Post("/verify", h.Account.VerifyEmail)
				email.With(authMiddleware.RequireAuth, byUser).Post("/resend", h.Account.ResendVerification)
			})
		})

		api.Route("/users", func(users chi.Router) {
			users.Use(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin), apiScope)
			users.Get("/", h.User.List)
			users.Get("/{id}", h.User.Get)
			users.Put("/{id}/active", h.User.SetActive)
		})

		api.With(authMiddleware.RequireAuth, authMiddleware.RequireRoles(model.RoleAdmin), apiScope).Get("/audit", h.Audit.List)
	})

	return r
}
