package service

import (
	"context"
	"sync"
	"time"

	"edu-auth-service/internal/model"
)

// In-memory stand-ins for the Postgres and Redis stores. They implement just
// enough behavior for the services to run a full flow.

type fakeUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]model.User

	findByEmailErr error
	createErr      error
	updatePwErr    error
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{nextID: 1, users: map[int64]model.User{}}
}

func (s *fakeUserStore) add(u model.User) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.nextID
		s.nextID++
	} else if u.ID >= s.nextID {
		s.nextID = u.ID + 1
	}
	s.users[u.ID] = u
	return u
}

func (s *fakeUserStore) get(id int64) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *fakeUserStore) FindByID(_ context.Context, id int64) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, model.ErrUserNotFound
	}
	return u, nil
}

func (s *fakeUserStore) FindByEmail(_ context.Context, email string) (model.User, error) {
	if s.findByEmailErr != nil {
		return model.User{}, s.findByEmailErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, model.ErrUserNotFound
}

func (s *fakeUserStore) ExistsByUsername(_ context.Context, username string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeUserStore) ExistsByEmail(_ context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeUserStore) Create(_ context.Context, u model.User) (int64, error) {
	if s.createErr != nil {
		return 0, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.users {
		if existing.Username == u.Username || existing.Email == u.Email {
			return 0, model.ErrUserAlreadyExists
		}
	}
	u.ID = s.nextID
	s.nextID++
	s.users[u.ID] = u
	return u.ID, nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, userID int64, passwordHash string) error {
	if s.updatePwErr != nil {
		return s.updatePwErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}

func (s *fakeUserStore) UpdateLastLogin(_ context.Context, userID int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.LastLogin = &at
	s.users[userID] = u
	return nil
}

func (s *fakeUserStore) IncrementFailedAttempts(_ context.Context, userID int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, model.ErrUserNotFound
	}
	u.FailedLoginAttempts++
	s.users[userID] = u
	return u.FailedLoginAttempts, nil
}

func (s *fakeUserStore) LockAccount(_ context.Context, userID int64, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.LockedUntil = &until
	s.users[userID] = u
	return nil
}

func (s *fakeUserStore) ResetFailedAttempts(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	s.users[userID] = u
	return nil
}

func (s *fakeUserStore) MarkEmailConfirmed(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.EmailConfirmed = true
	s.users[userID] = u
	return nil
}

func (s *fakeUserStore) SetActive(_ context.Context, userID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return model.ErrUserNotFound
	}
	u.IsActive = active
	s.users[userID] = u
	return nil
}

func (s *fakeUserStore) List(_ context.Context) ([]model.AuthUser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuthUser, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u.Public())
	}
	return out, nil
}

func (s *fakeUserStore) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users), nil
}

type fakeTokenStore struct {
	mu     sync.Mutex
	tokens map[string]storedToken
}

type storedToken struct {
	userID    int64
	expiresAt time.Time
}

func newFakeTokenStore() *fakeTokenStore {
	return &fakeTokenStore{tokens: map[string]storedToken{}}
}

func (s *fakeTokenStore) Store(_ context.Context, tokenID string, userID int64, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenID] = storedToken{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *fakeTokenStore) Validate(_ context.Context, tokenID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tokens[tokenID]
	if !ok || time.Now().After(t.expiresAt) {
		return 0, model.ErrTokenNotFound
	}
	return t.userID, nil
}

func (s *fakeTokenStore) Revoke(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenID)
	return nil
}

func (s *fakeTokenStore) RevokeAllForUser(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tokens {
		if t.userID == userID {
			delete(s.tokens, id)
		}
	}
	return nil
}

func (s *fakeTokenStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

type fakeReplayGuard struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newFakeReplayGuard() *fakeReplayGuard {
	return &fakeReplayGuard{seen: map[string]bool{}}
}

func (g *fakeReplayGuard) FirstUse(_ context.Context, tokenID string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[tokenID] {
		return false, nil
	}
	g.seen[tokenID] = true
	return true, nil
}

func (g *fakeReplayGuard) Release(_ context.Context, tokenID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, tokenID)
	return nil
}

type fakeMailer struct {
	mu          sync.Mutex
	resetSent   []string
	verifySent  []string
	resetTokens []string
}

func (m *fakeMailer) SendPasswordReset(_ context.Context, to string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetSent = append(m.resetSent, to)
	m.resetTokens = append(m.resetTokens, token)
	return nil
}

func (m *fakeMailer) SendEmailVerification(_ context.Context, to string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifySent = append(m.verifySent, to)
	return nil
}

func (m *fakeMailer) resetCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.resetSent)
}
