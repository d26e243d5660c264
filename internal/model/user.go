package model

import "time"

const (
	RoleRegular = "regular"
	RoleAdmin   = "admin"
)

// User is the durable identity record. The password hash never leaves the
// service; handlers expose AuthUser instead.
type User struct {
	ID                  int64      `json:"id"`
	Username            string     `json:"username"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Role                string     `json:"role"`
	IsActive            bool       `json:"is_active"`
	EmailConfirmed      bool       `json:"email_confirmed"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	LastLogin           *time.Time `json:"last_login,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type AuthUser struct {
	ID             int64  `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	Role           string `json:"role"`
	EmailConfirmed bool   `json:"email_confirmed"`
	IsActive       bool   `json:"is_active"`
}

func (u User) Public() AuthUser {
	return AuthUser{
		ID:             u.ID,
		Username:       u.Username,
		Email:          u.Email,
		Role:           u.Role,
		EmailConfirmed: u.EmailConfirmed,
		IsActive:       u.IsActive,
	}
}

func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

type TokenPair struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	TokenType    string   `json:"token_type"`
	ExpiresIn    int64    `json:"expires_in"`
	User         AuthUser `json:"user"`
}

type IntrospectionResult struct {
	Valid   bool  `json:"valid"`
	UserID  int64 `json:"user_id"`
	IsAdmin bool  `json:"is_admin"`
}
