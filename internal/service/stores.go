package service

import (
	"context"
	"strings"
	"time"

	"edu-auth-service/internal/model"
	"edu-auth-service/pkg/apierror"
)

// Store interfaces the services depend on. The repository package provides
// the Postgres implementations; tests substitute in-memory fakes.

type UserStore interface {
	FindByID(ctx context.Context, id int64) (model.User, error)
	FindByEmail(ctx context.Context, email string) (model.User, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, u model.User) (int64, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string) error
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error
	IncrementFailedAttempts(ctx context.Context, userID int64) (int, error)
	LockAccount(ctx context.Context, userID int64, until time.Time) error
	ResetFailedAttempts(ctx context.Context, userID int64) error
	MarkEmailConfirmed(ctx context.Context, userID int64) error
	SetActive(ctx context.Context, userID int64, active bool) error
	List(ctx context.Context) ([]model.AuthUser, error)
	Count(ctx context.Context) (int, error)
}

type RefreshTokenStore interface {
	Store(ctx context.Context, tokenID string, userID int64, expiresAt time.Time) error
	Validate(ctx context.Context, tokenID string) (int64, error)
	Revoke(ctx context.Context, tokenID string) error
	RevokeAllForUser(ctx context.Context, userID int64) error
}

// ReplayGuard tracks spent one-time tokens so reset/verify tokens cannot be
// replayed within their lifetime.
type ReplayGuard interface {
	FirstUse(ctx context.Context, tokenID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, tokenID string) error
}

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
)

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return apierror.BadRequest("password must be at least 8 characters", "password")
	}
	if len(password) > maxPasswordLength {
		return apierror.BadRequest("password must be at most 72 characters", "password")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
