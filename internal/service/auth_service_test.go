package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/bcrypt"

	"edu-auth-service/internal/model"
	"edu-auth-service/internal/token"
	"edu-auth-service/pkg/apierror"
)

const testPassword = "correct-horse-battery"

func testAuthService(t *testing.T) (*AuthService, *fakeUserStore, *fakeTokenStore) {
	t.Helper()

	users := newFakeUserStore()
	tokens := newFakeTokenStore()
	svc := NewAuthService(token.NewCodec("test-secret"), users, tokens, &fakeMailer{}, nil, AuthConfig{
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      24 * time.Hour,
		VerifyTTL:       24 * time.Hour,
		MaxFailedLogins: 3,
		LockoutDuration: 15 * time.Minute,
	})
	return svc, users, tokens
}

func seedUser(t *testing.T, users *fakeUserStore, email string) model.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)

	return users.add(model.User{
		Username:     "ada",
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleRegular,
		IsActive:     true,
	})
}

func TestLogin_Success(t *testing.T) {
	t.Parallel()

	svc, users, tokens := testAuthService(t)
	seedUser(t, users, "ada@example.com")

	pair, err := svc.Login(context.Background(), "Ada@Example.com", testPassword, "10.0.0.1")
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.Equal(t, int64((15 * time.Minute).Seconds()), pair.ExpiresIn)
	assert.Equal(t, "ada", pair.User.Username)
	assert.Equal(t, 1, tokens.count())
}

func TestLogin_GenericErrorForAllFailures(t *testing.T) {
	t.Parallel()

	svc, users, _ := testAuthService(t)
	user := seedUser(t, users, "ada@example.com")

	inactive := seedUser(t, users, "off@example.com")
	require.NoError(t, users.SetActive(context.Background(), inactive.ID, false))

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"unknown email", "ghost@example.com", testPassword},
		{"wrong password", user.Email, "not-the-password"},
		{"inactive account", "off@example.com", testPassword},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tc.email, tc.password, "10.0.0.1")
			require.Error(t, err)

			var apiErr *apierror.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 401, apiErr.HTTPStatus)
			assert.Equal(t, "invalid credentials", apiErr.Message)
		})
	}
}

func TestLogin_LockoutAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	svc, users, _ := testAuthService(t)
	user := seedUser(t, users, "ada@example.com")

	for i := 0; i < 3; i++ {
		_, err := svc.Login(context.Background(), user.Email, "wrong", "10.0.0.1")
		require.Error(t, err)
	}

	locked := users.get(user.ID)
	require.NotNil(t, locked.LockedUntil)
	assert.True(t, locked.LockedUntil.After(time.Now()))

	// Correct password is refused while the lock stands, with the same
	// generic message as a bad password.
	_, err := svc.Login(context.Background(), user.Email, testPassword, "10.0.0.1")
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.HTTPStatus)
	assert.Equal(t, "invalid credentials", apiErr.Message)
}

func TestLogin_SuccessClearsFailureCount(t *testing.T) {
	t.Parallel()

	svc, users, _ := testAuthService(t)
	user := seedUser(t, users, "ada@example.com")

	_, err := svc.Login(context.Background(), user.Email, "wrong", "10.0.0.1")
	require.Error(t, err)
	assert.Equal(t, 1, users.get(user.ID).FailedLoginAttempts)

	_, err = svc.Login(context.Background(), user.Email, testPassword, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 0, users.get(user.ID).FailedLoginAttempts)
}

func TestRegister_Success(t *testing.T) {
	t.Parallel()

	svc, users, _ := testAuthService(t)

	pair, err := svc.Register(context.Background(), "grace", "grace@example.com", "hopper-compiles", "10.0.0.1")
	require.NoError(t, err)

	assert.NotEmpty(t, pair.AccessToken)
	assert.Equal(t, "grace", pair.User.Username)
	assert.Equal(t, model.RoleRegular, pair.User.Role)

	created := users.get(pair.User.ID)
	assert.NotEqual(t, "hopper-compiles", created.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(created.PasswordHash), []byte("hopper-compiles")))
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	svc, _, _ := testAuthService(t)

	cases := []struct {
		name     string
		username string
		email    string
		password string
	}{
		{"empty fields", "", "", ""},
		{"short username", "ab", "a@example.com", "long-enough-pass"},
		{"bad email", "grace", "not-an-email", "long-enough-pass"},
		{"short password", "grace", "grace@example.com", "short"},
		{"overlong password", "grace", "grace@example.com", string(make([]byte, 80))},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.username, tc.email, tc.password, "10.0.0.1")
			var apiErr *apierror.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, 400, apiErr.HTTPStatus)
		})
	}
}

func TestRegister_DuplicateConflicts(t *testing.T) {
	t.Parallel()

	svc, users, _ := testAuthService(t)
	seedUser(t, users, "ada@example.com")

	_, err := svc.Register(context.Background(), "ada", "other@example.com", "long-enough-pass", "10.0.0.1")
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.HTTPStatus)

	_, err = svc.Register(context.Background(), "other", "ada@example.com", "long-enough-pass", "10.0.0.1")
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 409, apiErr.HTTPStatus)
}

func TestRefresh_RotatesToken(t *testing.T) {
	t.Parallel()

	svc, users, tokens := testAuthService(t)
	seedUser(t, users, "ada@example.com")

	pair, err := svc.Login(context.Background(), "ada@example.com", testPassword, "10.0.0.1")
	require.NoError(t, err)

	rotated, err := svc.Refresh(context.Background(), pair.RefreshToken, "10.0.0.1")
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, 1, tokens.count())

	// The presented token was revoked during rotation and cannot be
	// exchanged a second time.
	_, err = svc.Refresh(context.Background(), pair.RefreshToken, "10.0.0.1")
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.HTTPStatus)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	t.Parallel()

	svc, users, _ := testAuthService(t)
	seedUser(t, users, "ada@example.com")

	pair, err := svc.Login(context.Background(), "ada@example.com", testPassword, "10.0.0.1")
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), pair.AccessToken, "10.0.0.1")
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.HTTPStatus)
}

func TestLogout_RevokesAndNeverFails(t *testing.T) {
	t.Parallel()

	svc, users, tokens := testAuthService(t)
	seedUser(t, users, "ada@example.com")

	pair, err := svc.Login(context.Background(), "ada@example.com", testPassword, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, 1, tokens.count())

	svc.Logout(context.Background(), pair.RefreshToken, "10.0.0.1")
	assert.Equal(t, 0, tokens.count())

	// Garbage input is silently ignored.
	svc.Logout(context.Background(), "not-a-token", "10.0.0.1")
}

func TestResolveAccessToken(t *testing.T) {
	t.Parallel()

	svc, users, _ := testAuthService(t)
	user := seedUser(t, users, "ada@example.com")

	pair, err := svc.Login(context.Background(), "ada@example.com", testPassword, "10.0.0.1")
	require.NoError(t, err)

	identity, err := svc.ResolveAccessToken(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, identity.ID)
	assert.Equal(t, model.RoleRegular, identity.Role)

	// A refresh token is not an access credential.
	_, err = svc.ResolveAccessToken(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUnauthorized)

	// Deactivation invalidates outstanding access tokens immediately.
	require.NoError(t, users.SetActive(context.Background(), user.ID, false))
	_, err = svc.ResolveAccessToken(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestIntrospect(t *testing.T) {
	t.Parallel()

	svc, users, _ := testAuthService(t)
	user := seedUser(t, users, "ada@example.com")

	pair, err := svc.Login(context.Background(), "ada@example.com", testPassword, "10.0.0.1")
	require.NoError(t, err)

	result, err := svc.Introspect(context.Background(), pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, user.ID, result.UserID)
	assert.False(t, result.IsAdmin)

	_, err = svc.Introspect(context.Background(), "garbage")
	var apiErr *apierror.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 401, apiErr.HTTPStatus)
}

func TestSetUserActive_DeactivationRevokesSessions(t *testing.T) {
	t.Parallel()

	svc, users, tokens := testAuthService(t)
	user := seedUser(t, users, "ada@example.com")

	_, err := svc.Login(context.Background(), "ada@example.com", testPassword, "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, 1, tokens.count())

	err = svc.SetUserActive(context.Background(), user.ID, false, model.AuditActor{UserID: 99})
	require.NoError(t, err)

	assert.False(t, users.get(user.ID).IsActive)
	assert.Equal(t, 0, tokens.count())
}
