package service

import (
	"context"
	"errors"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"edu-auth-service/internal/event"
	"edu-auth-service/internal/mailer"
	"edu-auth-service/internal/metrics"
	"edu-auth-service/internal/model"
	"edu-auth-service/internal/token"
	"edu-auth-service/pkg/apierror"
)

const bcryptCost = 12

type AuthConfig struct {
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	VerifyTTL       time.Duration
	MaxFailedLogins int
	LockoutDuration time.Duration
}

// AuthService owns credential verification, token issuance and refresh, and
// request-scoped identity resolution.
type AuthService struct {
	codec  *token.Codec
	users  UserStore
	tokens RefreshTokenStore
	mail   mailer.Mailer
	bus    event.Bus
	cfg    AuthConfig
	now    func() time.Time
}

func NewAuthService(codec *token.Codec, users UserStore, tokens RefreshTokenStore, mail mailer.Mailer, bus event.Bus, cfg AuthConfig) *AuthService {
	return &AuthService{
		codec:  codec,
		users:  users,
		tokens: tokens,
		mail:   mail,
		bus:    bus,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Login verifies credentials and mints a token pair. All credential failures
// surface the same generic 401 so callers cannot probe which check failed.
func (s *AuthService) Login(ctx context.Context, email string, password string, clientIP string) (model.TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return model.TokenPair{}, apierror.BadRequest("email and password are required", "")
	}

	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, model.ErrUserNotFound) {
		s.loginFailed(model.AuditActor{Username: email, IP: clientIP}, "unknown email")
		return model.TokenPair{}, apierror.Unauthorized("invalid credentials")
	}
	if err != nil {
		return model.TokenPair{}, err
	}

	actor := model.AuditActor{UserID: user.ID, Username: user.Username, IP: clientIP}
	now := s.now().UTC()

	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		s.loginFailed(actor, "account locked")
		return model.TokenPair{}, apierror.Unauthorized("invalid credentials")
	}

	if !user.IsActive {
		s.loginFailed(actor, "account inactive")
		return model.TokenPair{}, apierror.Unauthorized("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.recordFailedAttempt(ctx, user, now)
		s.loginFailed(actor, "wrong password")
		return model.TokenPair{}, apierror.Unauthorized("invalid credentials")
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		if err := s.users.ResetFailedAttempts(ctx, user.ID); err != nil {
			slog.Warn("reset failed attempts", "user_id", user.ID, "error", err)
		}
	}

	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		slog.Warn("update last login", "user_id", user.ID, "error", err)
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return model.TokenPair{}, err
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	s.publish(event.TypeLoginSucceeded, actor, "")
	return pair, nil
}

// Register creates an identity and logs it straight in. Username and email
// uniqueness are checked up front; the insert still guards against the race.
func (s *AuthService) Register(ctx context.Context, username string, email string, password string, clientIP string) (model.TokenPair, error) {
	username = strings.TrimSpace(username)
	email = normalizeEmail(email)

	if username == "" || email == "" || password == "" {
		return model.TokenPair{}, apierror.BadRequest("username, email and password are required", "")
	}
	if len(username) < 3 || len(username) > 32 {
		return model.TokenPair{}, apierror.BadRequest("username must be between 3 and 32 characters", "username")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return model.TokenPair{}, apierror.BadRequest("invalid email address", "email")
	}
	if err := validatePassword(password); err != nil {
		return model.TokenPair{}, err
	}

	if exists, err := s.users.ExistsByUsername(ctx, username); err != nil {
		return model.TokenPair{}, err
	} else if exists {
		return model.TokenPair{}, apierror.Conflict("username already exists", username)
	}

	if exists, err := s.users.ExistsByEmail(ctx, email); err != nil {
		return model.TokenPair{}, err
	} else if exists {
		return model.TokenPair{}, apierror.Conflict("email already exists", email)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return model.TokenPair{}, err
	}

	now := s.now().UTC()
	user := model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleRegular,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	id, err := s.users.Create(ctx, user)
	if errors.Is(err, model.ErrUserAlreadyExists) {
		return model.TokenPair{}, apierror.Conflict("username or email already exists", "")
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	user.ID = id

	s.sendVerificationEmail(ctx, user)

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return model.TokenPair{}, err
	}

	metrics.Registrations.Inc()
	s.publish(event.TypeUserRegistered, model.AuditActor{UserID: user.ID, Username: user.Username, IP: clientIP}, "")
	return pair, nil
}

// Refresh exchanges a valid, unrevoked refresh token for a fresh pair. The
// presented token is revoked in the same motion (rotation).
func (s *AuthService) Refresh(ctx context.Context, rawToken string, clientIP string) (model.TokenPair, error) {
	claims, err := s.codec.Parse(rawToken, token.KindRefresh)
	if errors.Is(err, token.ErrWrongKind) {
		return model.TokenPair{}, apierror.BadRequest("token is not a refresh token", "")
	}
	if err != nil {
		return model.TokenPair{}, apierror.Unauthorized("invalid or expired token")
	}

	subjectID, err := claims.UserID()
	if err != nil {
		return model.TokenPair{}, apierror.Unauthorized("invalid or expired token")
	}

	ownerID, err := s.tokens.Validate(ctx, claims.ID)
	if errors.Is(err, model.ErrTokenNotFound) {
		return model.TokenPair{}, apierror.Unauthorized("invalid or expired token")
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	if ownerID != subjectID {
		return model.TokenPair{}, apierror.Unauthorized("invalid or expired token")
	}

	user, err := s.users.FindByID(ctx, subjectID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.TokenPair{}, apierror.Unauthorized("invalid or expired token")
	}
	if err != nil {
		return model.TokenPair{}, err
	}
	if !user.IsActive {
		return model.TokenPair{}, apierror.Unauthorized("invalid or expired token")
	}

	if err := s.tokens.Revoke(ctx, claims.ID); err != nil {
		return model.TokenPair{}, err
	}

	now := s.now().UTC()
	if err := s.users.UpdateLastLogin(ctx, user.ID, now); err != nil {
		slog.Warn("update last login", "user_id", user.ID, "error", err)
	}

	pair, err := s.issuePair(ctx, user)
	if err != nil {
		return model.TokenPair{}, err
	}

	s.publish(event.TypeTokenRefreshed, model.AuditActor{UserID: user.ID, Username: user.Username, IP: clientIP}, "")
	return pair, nil
}

// Introspect reports validity and role of any signed token without requiring
// a particular kind.
func (s *AuthService) Introspect(ctx context.Context, rawToken string) (model.IntrospectionResult, error) {
	claims, err := s.codec.Parse(rawToken, "")
	if err != nil {
		return model.IntrospectionResult{}, apierror.Unauthorized("invalid or expired token")
	}

	subjectID, err := claims.UserID()
	if err != nil {
		return model.IntrospectionResult{}, apierror.Unauthorized("invalid or expired token")
	}

	user, err := s.users.FindByID(ctx, subjectID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.IntrospectionResult{}, apierror.NotFound("user not found", "")
	}
	if err != nil {
		return model.IntrospectionResult{}, err
	}

	return model.IntrospectionResult{Valid: true, UserID: user.ID, IsAdmin: user.IsAdmin()}, nil
}

// Logout revokes the presented refresh token. Invalid tokens are ignored so
// logout never fails for the client.
func (s *AuthService) Logout(ctx context.Context, rawToken string, clientIP string) {
	claims, err := s.codec.Parse(rawToken, token.KindRefresh)
	if err != nil {
		return
	}

	if err := s.tokens.Revoke(ctx, claims.ID); err != nil {
		slog.Warn("revoke refresh token", "error", err)
		return
	}

	if subjectID, err := claims.UserID(); err == nil {
		s.publish(event.TypeLogout, model.AuditActor{UserID: subjectID, IP: clientIP}, "")
	}
}

// ResolveAccessToken is the request authenticator: it accepts only access
// tokens and only for existing, active identities.
func (s *AuthService) ResolveAccessToken(ctx context.Context, rawToken string) (model.AuthUser, error) {
	claims, err := s.codec.Parse(rawToken, token.KindAccess)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrExpired):
			metrics.TokenVerifications.WithLabelValues("expired").Inc()
		default:
			metrics.TokenVerifications.WithLabelValues("invalid").Inc()
		}
		return model.AuthUser{}, model.ErrUnauthorized
	}

	subjectID, err := claims.UserID()
	if err != nil {
		metrics.TokenVerifications.WithLabelValues("invalid").Inc()
		return model.AuthUser{}, model.ErrUnauthorized
	}

	user, err := s.users.FindByID(ctx, subjectID)
	if errors.Is(err, model.ErrUserNotFound) {
		metrics.TokenVerifications.WithLabelValues("not_found").Inc()
		return model.AuthUser{}, model.ErrUnauthorized
	}
	if err != nil {
		return model.AuthUser{}, err
	}
	if !user.IsActive {
		metrics.TokenVerifications.WithLabelValues("inactive").Inc()
		return model.AuthUser{}, model.ErrUnauthorized
	}

	metrics.TokenVerifications.WithLabelValues("ok").Inc()
	return user.Public(), nil
}

func (s *AuthService) GetUser(ctx context.Context, userID int64) (model.AuthUser, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.AuthUser{}, apierror.NotFound("user not found", "")
	}
	if err != nil {
		return model.AuthUser{}, err
	}
	return user.Public(), nil
}

func (s *AuthService) ListUsers(ctx context.Context) ([]model.AuthUser, error) {
	return s.users.List(ctx)
}

func (s *AuthService) SetUserActive(ctx context.Context, userID int64, active bool, actor model.AuditActor) error {
	err := s.users.SetActive(ctx, userID, active)
	if errors.Is(err, model.ErrUserNotFound) {
		return apierror.NotFound("user not found", "")
	}
	if err != nil {
		return err
	}

	if !active {
		// A deactivated user keeps no standing sessions.
		if err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
			slog.Warn("revoke tokens on deactivation", "user_id", userID, "error", err)
		}
		s.publish(event.TypeUserDeactivated, actor, "")
	} else {
		s.publish(event.TypeUserActivated, actor, "")
	}
	return nil
}

func (s *AuthService) issuePair(ctx context.Context, user model.User) (model.TokenPair, error) {
	access, _, err := s.codec.Sign(user.ID, user.Role, "", token.KindAccess, s.cfg.AccessTTL)
	if err != nil {
		return model.TokenPair{}, err
	}

	refresh, refreshClaims, err := s.codec.Sign(user.ID, user.Role, "", token.KindRefresh, s.cfg.RefreshTTL)
	if err != nil {
		return model.TokenPair{}, err
	}

	if err := s.tokens.Store(ctx, refreshClaims.ID, user.ID, refreshClaims.ExpiresAt.Time); err != nil {
		return model.TokenPair{}, err
	}

	return model.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessTTL.Seconds()),
		User:         user.Public(),
	}, nil
}

func (s *AuthService) recordFailedAttempt(ctx context.Context, user model.User, now time.Time) {
	count, err := s.users.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		slog.Warn("increment failed attempts", "user_id", user.ID, "error", err)
		return
	}

	if count >= s.cfg.MaxFailedLogins {
		until := now.Add(s.cfg.LockoutDuration)
		if err := s.users.LockAccount(ctx, user.ID, until); err != nil {
			slog.Warn("lock account", "user_id", user.ID, "error", err)
			return
		}
		slog.Info("account locked after repeated failures", "user_id", user.ID, "until", until)
	}
}

func (s *AuthService) sendVerificationEmail(ctx context.Context, user model.User) {
	verify, _, err := s.codec.Sign(user.ID, user.Role, user.Email, token.KindEmailVerify, s.cfg.VerifyTTL)
	if err != nil {
		slog.Warn("sign verification token", "user_id", user.ID, "error", err)
		return
	}
	if err := s.mail.SendEmailVerification(ctx, user.Email, verify); err != nil {
		slog.Warn("send verification email", "user_id", user.ID, "error", err)
	}
}

func (s *AuthService) loginFailed(actor model.AuditActor, detail string) {
	metrics.LoginAttempts.WithLabelValues("failure").Inc()
	s.publish(event.TypeLoginFailed, actor, detail)
}

func (s *AuthService) publish(t event.Type, actor model.AuditActor, detail string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event.Event{
		Type:       t,
		OccurredAt: s.now().UTC(),
		Actor:      actor,
		Detail:     detail,
	})
}
