package service

import (
	"context"
	"errors"
	"log/slog"
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

// AccountService owns the one-time-token flows (password reset, email
// verification) and authenticated password changes.
type AccountService struct {
	codec     *token.Codec
	users     UserStore
	tokens    RefreshTokenStore
	replay    ReplayGuard
	mail      mailer.Mailer
	bus       event.Bus
	resetTTL  time.Duration
	verifyTTL time.Duration
	now       func() time.Time
}

func NewAccountService(codec *token.Codec, users UserStore, tokens RefreshTokenStore, replay ReplayGuard, mail mailer.Mailer, bus event.Bus, resetTTL time.Duration, verifyTTL time.Duration) *AccountService {
	return &AccountService{
		codec:     codec,
		users:     users,
		tokens:    tokens,
		replay:    replay,
		mail:      mail,
		bus:       bus,
		resetTTL:  resetTTL,
		verifyTTL: verifyTTL,
		now:       time.Now,
	}
}

// RequestPasswordReset never reports whether the email exists; the response
// is identical either way so the endpoint cannot be used for enumeration.
func (s *AccountService) RequestPasswordReset(ctx context.Context, email string) {
	email = normalizeEmail(email)
	if email == "" {
		return
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, model.ErrUserNotFound) {
			slog.Warn("lookup for password reset", "error", err)
		}
		return
	}
	if !user.IsActive {
		return
	}

	reset, _, err := s.codec.Sign(user.ID, user.Role, user.Email, token.KindPasswordReset, s.resetTTL)
	if err != nil {
		slog.Warn("sign reset token", "user_id", user.ID, "error", err)
		return
	}

	if err := s.mail.SendPasswordReset(ctx, user.Email, reset); err != nil {
		slog.Warn("send reset email", "user_id", user.ID, "error", err)
		return
	}

	metrics.PasswordResets.WithLabelValues("requested").Inc()
}

// ResetPassword consumes a password_reset token exactly once. The spent mark
// is taken before the mutation and released again if the mutation fails, so a
// failed attempt leaves the token usable and no partial state behind.
func (s *AccountService) ResetPassword(ctx context.Context, rawToken string, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	claims, err := s.codec.Parse(rawToken, token.KindPasswordReset)
	if err != nil {
		return apierror.BadRequest("invalid or expired token", "")
	}

	user, err := s.resolveBoundUser(ctx, claims)
	if err != nil {
		return err
	}

	first, err := s.replay.FirstUse(ctx, claims.ID, s.remainingLifetime(claims))
	if err != nil {
		return err
	}
	if !first {
		return apierror.BadRequest("invalid or expired token", "")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		s.releaseMark(ctx, claims.ID)
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		s.releaseMark(ctx, claims.ID)
		return err
	}

	if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		slog.Warn("revoke sessions after reset", "user_id", user.ID, "error", err)
	}

	metrics.PasswordResets.WithLabelValues("consumed").Inc()
	s.publish(event.TypePasswordReset, model.AuditActor{UserID: user.ID, Username: user.Username}, "")
	return nil
}

// VerifyEmail consumes an email_verify token and sets the confirmed flag.
// Verifying an already-confirmed address is a no-op success.
func (s *AccountService) VerifyEmail(ctx context.Context, rawToken string) error {
	claims, err := s.codec.Parse(rawToken, token.KindEmailVerify)
	if err != nil {
		return apierror.BadRequest("invalid or expired token", "")
	}

	user, err := s.resolveBoundUser(ctx, claims)
	if err != nil {
		return err
	}

	if user.EmailConfirmed {
		return nil
	}

	first, err := s.replay.FirstUse(ctx, claims.ID, s.remainingLifetime(claims))
	if err != nil {
		return err
	}
	if !first {
		return apierror.BadRequest("invalid or expired token", "")
	}

	if err := s.users.MarkEmailConfirmed(ctx, user.ID); err != nil {
		s.releaseMark(ctx, claims.ID)
		return err
	}

	s.publish(event.TypeEmailVerified, model.AuditActor{UserID: user.ID, Username: user.Username}, "")
	return nil
}

func (s *AccountService) ResendVerification(ctx context.Context, userID int64) error {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return apierror.NotFound("user not found", "")
	}
	if err != nil {
		return err
	}

	if user.EmailConfirmed {
		return apierror.BadRequest("email is already verified", "")
	}

	verify, _, err := s.codec.Sign(user.ID, user.Role, user.Email, token.KindEmailVerify, s.verifyTTL)
	if err != nil {
		return err
	}

	return s.mail.SendEmailVerification(ctx, user.Email, verify)
}

// ChangePassword requires the current password. A mismatch mutates nothing.
func (s *AccountService) ChangePassword(ctx context.Context, userID int64, currentPassword string, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, model.ErrUserNotFound) {
		return apierror.NotFound("user not found", "")
	}
	if err != nil {
		return err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)); err != nil {
		return apierror.BadRequest("current password is incorrect", "")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, user.ID, string(hash)); err != nil {
		return err
	}

	if err := s.tokens.RevokeAllForUser(ctx, user.ID); err != nil {
		slog.Warn("revoke sessions after password change", "user_id", user.ID, "error", err)
	}

	s.publish(event.TypePasswordChanged, model.AuditActor{UserID: user.ID, Username: user.Username}, "")
	return nil
}

// resolveBoundUser re-verifies the token's subject: the user must still
// exist, be active, and carry the email the token was bound to at mint time.
func (s *AccountService) resolveBoundUser(ctx context.Context, claims *token.Claims) (model.User, error) {
	subjectID, err := claims.UserID()
	if err != nil {
		return model.User{}, apierror.BadRequest("invalid or expired token", "")
	}

	user, err := s.users.FindByID(ctx, subjectID)
	if errors.Is(err, model.ErrUserNotFound) {
		return model.User{}, apierror.NotFound("user not found", "")
	}
	if err != nil {
		return model.User{}, err
	}
	if !user.IsActive {
		return model.User{}, apierror.NotFound("user not found", "")
	}

	if !strings.EqualFold(user.Email, claims.Email) {
		// Email changed after the token was minted; the token is stale.
		return model.User{}, apierror.BadRequest("invalid or expired token", "")
	}

	return user, nil
}

func (s *AccountService) remainingLifetime(claims *token.Claims) time.Duration {
	remaining := claims.ExpiresAt.Time.Sub(s.now())
	if remaining < time.Minute {
		remaining = time.Minute
	}
	return remaining
}

func (s *AccountService) releaseMark(ctx context.Context, tokenID string) {
	if err := s.replay.Release(ctx, tokenID); err != nil {
		slog.Warn("release replay mark", "token_id", tokenID, "error", err)
	}
}

func (s *AccountService) publish(t event.Type, actor model.AuditActor, detail string) {
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
