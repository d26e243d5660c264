package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang.org/x/crypto/bcrypt"

	"edu-auth-service/internal/middleware"
	"edu-auth-service/internal/model"
	"edu-auth-service/internal/service"
	"edu-auth-service/internal/token"
)

// memoryUsers is a minimal in-memory UserStore for wiring real services under
// httptest without a database.
type memoryUsers struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]model.User
}

func newMemoryUsers() *memoryUsers {
	return &memoryUsers{nextID: 1, users: map[int64]model.User{}}
}

func (s *memoryUsers) seed(t *testing.T, email string, password string) model.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	u := model.User{
		ID:           s.nextID,
		Username:     "ada",
		Email:        email,
		PasswordHash: string(hash),
		Role:         model.RoleRegular,
		IsActive:     true,
	}
	s.nextID++
	s.users[u.ID] = u
	return u
}

func (s *memoryUsers) FindByID(_ context.Context, id int64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (s *memoryUsers) FindByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (s *memoryUsers) ExistsByUsername(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *memoryUsers) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := s.FindByEmail(ctx, email)
	if err != nil {
		return false, nil
	}
	return true, nil
}

func (s *memoryUsers) Create(_ context.Context, u model.User) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.nextID
	s.nextID++
	s.users[u.ID] = u
	return u.ID, nil
}

func (s *memoryUsers) UpdatePassword(_ context.Context, userID int64, passwordHash string) error {
	return s.mutate(userID, func(u *model.User) { u.PasswordHash = passwordHash })
}

func (s *memoryUsers) UpdateLastLogin(_ context.Context, userID int64, at time.Time) error {
	return s.mutate(userID, func(u *model.User) { u.LastLogin = &at })
}

func (s *memoryUsers) IncrementFailedAttempts(_ context.Context, userID int64) (int, error) {
	var count int
	err := s.mutate(userID, func(u *model.User) {
		u.FailedLoginAttempts++
		count = u.FailedLoginAttempts
	})
	return count, err
}

func (s *memoryUsers) LockAccount(_ context.Context, userID int64, until time.Time) error {
	return s.mutate(userID, func(u *model.User) { u.LockedUntil = &until })
}

func (s *memoryUsers) ResetFailedAttempts(_ context.Context, userID int64) error {
	return s.mutate(userID, func(u *model.User) {
		u.FailedLoginAttempts = 0
		u.LockedUntil = nil
	})
}

func (s *memoryUsers) MarkEmailConfirmed(_ context.Context, userID int64) error {
	return s.mutate(userID, func(u *model.User) { u.EmailConfirmed = true })
}

func (s *memoryUsers) SetActive(_ context.Context, userID int64, active bool) error {
	return s.mutate(userID, func(u *model.User) { u.IsActive = active })
}

func (s *memoryUsers) List(_ context.Context) ([]model.AuthUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuthUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Public())
	}
	return out, nil
}

func (s *memoryUsers) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

func (s *memoryUsers) mutate(userID int64, apply func(*model.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	apply(&u)
	s.users[userID] = u
	return nil
}

type memoryTokens struct {
	mu     sync.Mutex
	byID   map[string]int64
	expiry map[string]time.Time
}

func newMemoryTokens() *memoryTokens {
	return &memoryTokens{byID: map[string]int64{}, expiry: map[string]time.Time{}}
}

func (s *memoryTokens) Store(_ context.Context, tokenID string, userID int64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[tokenID] = userID
	s.expiry[tokenID] = expiresAt
	return nil
}

func (s *memoryTokens) Validate(_ context.Context, tokenID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.byID[tokenID]
	if !ok || time.Now().After(s.expiry[tokenID]) {
		return 0, model.ErrTokenNotFound
	}
	return userID, nil
}

func (s *memoryTokens) Revoke(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, tokenID)
	delete(s.expiry, tokenID)
	return nil
}

func (s *memoryTokens) RevokeAllForUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, owner := range s.byID {
		if owner == userID {
			delete(s.byID, id)
			delete(s.expiry, id)
		}
	}
	return nil
}

type nullMailer struct{}

func (nullMailer) SendPasswordReset(context.Context, string, string) error      { return nil }
func (nullMailer) SendEmailVerification(context.Context, string, string) error { return nil }

func testRouter(t *testing.T) (http.Handler, *memoryUsers) {
	t.Helper()

	users := newMemoryUsers()
	svc := service.NewAuthService(token.NewCodec("test-secret"), users, newMemoryTokens(), nullMailer{}, nil, service.AuthConfig{
		AccessTTL:       15 * time.Minute,
		RefreshTTL:      24 * time.Hour,
		VerifyTTL:       24 * time.Hour,
		MaxFailedLogins: 5,
		LockoutDuration: 15 * time.Minute,
	})

	authMiddleware := middleware.NewAuthMiddleware(svc)
	authHandler := NewAuthHandler(svc)

	r := chi.NewRouter()
	r.Post("/auth/login", authHandler.Login)
	r.Post("/auth/register", authHandler.Register)
	r.Post("/auth/refresh", authHandler.Refresh)
	r.Post("/auth/verify", authHandler.Introspect)
	r.Post("/auth/logout", authHandler.Logout)
	r.With(authMiddleware.RequireAuth).Get("/auth/me", authHandler.Me)

	return r, users
}

func postJSON(t *testing.T, h http.Handler, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestLoginEndpoint(t *testing.T) {
	t.Parallel()

	router, users := testRouter(t)
	users.seed(t, "ada@example.com", "correct-horse-battery")

	rec := postJSON(t, router, "/auth/login", model.LoginRequest{Email: "ada@example.com", Password: "correct-horse-battery"})
	require.Equal(t, http.StatusOK, rec.Code)

	var pair model.TokenPair
	decodeData(t, rec, &pair)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)
	assert.NotContains(t, rec.Body.String(), "password_hash")
}

func TestLoginEndpoint_BadCredentials(t *testing.T) {
	t.Parallel()

	router, users := testRouter(t)
	users.seed(t, "ada@example.com", "correct-horse-battery")

	wrongPassword := postJSON(t, router, "/auth/login", model.LoginRequest{Email: "ada@example.com", Password: "nope-nope-nope"})
	unknownEmail := postJSON(t, router, "/auth/login", model.LoginRequest{Email: "ghost@example.com", Password: "nope-nope-nope"})

	require.Equal(t, http.StatusUnauthorized, wrongPassword.Code)
	require.Equal(t, http.StatusUnauthorized, unknownEmail.Code)

	// Byte-identical bodies: the endpoint does not reveal which check failed.
	assert.Equal(t, wrongPassword.Body.String(), unknownEmail.Body.String())
}

func TestLoginEndpoint_MalformedBody(t *testing.T) {
	t.Parallel()

	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterEndpoint(t *testing.T) {
	t.Parallel()

	router, _ := testRouter(t)

	rec := postJSON(t, router, "/auth/register", model.RegisterRequest{
		Username: "grace",
		Email:    "grace@example.com",
		Password: "hopper-compiles",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var pair model.TokenPair
	decodeData(t, rec, &pair)
	assert.Equal(t, "grace", pair.User.Username)

	// Same registration again conflicts.
	dup := postJSON(t, router, "/auth/register", model.RegisterRequest{
		Username: "grace",
		Email:    "grace@example.com",
		Password: "hopper-compiles",
	})
	assert.Equal(t, http.StatusConflict, dup.Code)
}

func TestRefreshEndpoint_Rotation(t *testing.T) {
	t.Parallel()

	router, users := testRouter(t)
	users.seed(t, "ada@example.com", "correct-horse-battery")

	login := postJSON(t, router, "/auth/login", model.LoginRequest{Email: "ada@example.com", Password: "correct-horse-battery"})
	require.Equal(t, http.StatusOK, login.Code)

	var pair model.TokenPair
	decodeData(t, login, &pair)

	first := postJSON(t, router, "/auth/refresh", model.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.Equal(t, http.StatusOK, first.Code)

	replay := postJSON(t, router, "/auth/refresh", model.RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, replay.Code)
}

func TestMeEndpoint(t *testing.T) {
	t.Parallel()

	router, users := testRouter(t)
	users.seed(t, "ada@example.com", "correct-horse-battery")

	login := postJSON(t, router, "/auth/login", model.LoginRequest{Email: "ada@example.com", Password: "correct-horse-battery"})
	require.Equal(t, http.StatusOK, login.Code)

	var pair model.TokenPair
	decodeData(t, login, &pair)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var me model.AuthUser
	decodeData(t, rec, &me)
	assert.Equal(t, "ada@example.com", me.Email)

	bare := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	bareRec := httptest.NewRecorder()
	router.ServeHTTP(bareRec, bare)
	assert.Equal(t, http.StatusUnauthorized, bareRec.Code)
}

func TestIntrospectEndpoint(t *testing.T) {
	t.Parallel()

	router, users := testRouter(t)
	users.seed(t, "ada@example.com", "correct-horse-battery")

	login := postJSON(t, router, "/auth/login", model.LoginRequest{Email: "ada@example.com", Password: "correct-horse-battery"})
	require.Equal(t, http.StatusOK, login.Code)

	var pair model.TokenPair
	decodeData(t, login, &pair)

	rec := postJSON(t, router, "/auth/verify", model.IntrospectRequest{Token: pair.AccessToken})
	require.Equal(t, http.StatusOK, rec.Code)

	var result model.IntrospectionResult
	decodeData(t, rec, &result)
	assert.True(t, result.Valid)
	assert.False(t, result.IsAdmin)

	bad := postJSON(t, router, "/auth/verify", model.IntrospectRequest{Token: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
}
