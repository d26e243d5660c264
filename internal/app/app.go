package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/crypto/bcrypt"

	"edu-auth-service/internal/cache"
	"edu-auth-service/internal/config"
	"edu-auth-service/internal/database"
	"edu-auth-service/internal/event"
	"edu-auth-service/internal/handler"
	"edu-auth-service/internal/mailer"
	"edu-auth-service/internal/middleware"
	"edu-auth-service/internal/model"
	"edu-auth-service/internal/repository"
	"edu-auth-service/internal/router"
	"edu-auth-service/internal/service"
	"edu-auth-service/internal/throttle"
	"edu-auth-service/internal/token"
)

type App struct {
	server       *http.Server
	db           *database.DB
	cleanupFuncs []func()
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("connecting to PostgreSQL")
	db, err := database.New(context.Background(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure database schema: %w", err)
	}

	redisClient, err := cache.NewClient(context.Background(), cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	pool := db.Pool
	userRepo := repository.NewUserRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)
	auditRepo := repository.NewAuditRepository(pool)
	slog.Info("database ready")

	if err := bootstrapAdmin(context.Background(), cfg, userRepo); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to bootstrap admin: %w", err)
	}

	codec := token.NewCodec(cfg.JWTSecret)
	replayGuard := cache.NewReplayGuard(redisClient)

	guard := throttle.NewGuard(throttle.NewRedisStore(redisClient))
	guard.SetRule(throttle.ScopeAuth, cfg.ThrottleAuthLimit, cfg.ThrottleAuthWindow)
	guard.SetRule(throttle.ScopeSensitive, cfg.ThrottleSensitiveLimit, cfg.ThrottleSensitiveWindow)
	guard.SetRule(throttle.ScopeAPI, cfg.ThrottleAPILimit, cfg.ThrottleAPIWindow)

	var mail mailer.Mailer = mailer.LogMailer{}
	if cfg.SMTPAddr != "" {
		mail = mailer.NewSMTPMailer(cfg.SMTPAddr, cfg.SMTPFrom, cfg.PublicURL)
	}

	bus := event.NewBus()

	authService := service.NewAuthService(codec, userRepo, tokenRepo, mail, bus, service.AuthConfig{
		AccessTTL:       cfg.JWTAccessTTL,
		RefreshTTL:      cfg.JWTRefreshTTL,
		VerifyTTL:       cfg.VerifyTokenTTL,
		MaxFailedLogins: cfg.MaxFailedLogins,
		LockoutDuration: cfg.LockoutDuration,
	})
	accountService := service.NewAccountService(codec, userRepo, tokenRepo, replayGuard, mail, bus, cfg.ResetTokenTTL, cfg.VerifyTokenTTL)
	auditService := service.NewAuditService(auditRepo)

	auditCtx, auditCancel := context.WithCancel(context.Background())
	go auditService.Run(auditCtx, bus)

	authMiddleware := middleware.NewAuthMiddleware(authService)

	appRouter := router.New(cfg, authMiddleware, guard, router.Handlers{
		Auth:    handler.NewAuthHandler(authService),
		Account: handler.NewAccountHandler(accountService),
		User:    handler.NewUserHandler(authService),
		Audit:   handler.NewAuditHandler(auditService),
		Health:  handler.NewHealthHandler(db, redisClient),
	})

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	go expiredTokenSweeper(cleanupCtx, tokenRepo)

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return &App{
		server: server,
		db:     db,
		cleanupFuncs: []func(){
			func() {
				cleanupCancel()
			},
			func() {
				auditCancel()
			},
			func() {
				_ = redisClient.Close()
			},
			func() {
				db.Close()
			},
		},
	}, nil
}

func (a *App) Run() error {
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if serveErr := a.server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("server failed", "error", serveErr)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	for _, cleanup := range a.cleanupFuncs {
		cleanup()
	}

	slog.Info("server stopped")
	return nil
}

// bootstrapAdmin seeds the first admin account when the user table is empty
// and bootstrap credentials are configured. Without it a fresh deployment has
// no way to reach the admin surface.
func bootstrapAdmin(ctx context.Context, cfg *config.Config, users *repository.UserRepository) error {
	if cfg.BootstrapAdminEmail == "" || cfg.BootstrapAdminPassword == "" {
		return nil
	}

	count, err := users.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.BootstrapAdminPassword), 12)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	id, err := users.Create(ctx, model.User{
		Username:       "admin",
		Email:          cfg.BootstrapAdminEmail,
		PasswordHash:   string(hash),
		Role:           model.RoleAdmin,
		IsActive:       true,
		EmailConfirmed: true,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if err != nil {
		return err
	}

	slog.Info("bootstrap admin created", "user_id", id, "email", cfg.BootstrapAdminEmail)
	return nil
}

// expiredTokenSweeper periodically deletes refresh token rows past their
// expiry so the table does not grow without bound.
func expiredTokenSweeper(ctx context.Context, tokens *repository.TokenRepository) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := tokens.CleanExpired(ctx)
			if err != nil {
				slog.Warn("clean expired refresh tokens", "error", err)
				continue
			}
			if removed > 0 {
				slog.Info("expired refresh tokens removed", "count", removed)
			}
		}
	}
}
