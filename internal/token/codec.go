// Package token implements the signed-token codec shared by session issuance,
// request authentication and the one-time reset/verify flows.
package token

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Kind string

const (
	KindAccess        Kind = "access"
	KindRefresh       Kind = "refresh"
	KindPasswordReset Kind = "password_reset"
	KindEmailVerify   Kind = "email_verify"
)

var (
	ErrMalformed        = errors.New("token is malformed")
	ErrExpired          = errors.New("token is expired")
	ErrSignatureInvalid = errors.New("token signature is invalid")
	ErrWrongKind        = errors.New("unexpected token kind")
)

// Claims carries the standard registered claims plus the token kind and the
// role snapshot taken at mint time. Reset tokens also bind the email so an
// email change invalidates outstanding resets.
type Claims struct {
	jwt.RegisteredClaims
	Kind  Kind   `json:"typ"`
	Role  string `json:"role,omitempty"`
	Email string `json:"email,omitempty"`
}

// UserID parses the subject claim back into the numeric identity id.
func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrMalformed
	}
	return id, nil
}

type Codec struct {
	secret []byte
	now    func() time.Time
}

func NewCodec(secret string) *Codec {
	return &Codec{secret: []byte(secret), now: time.Now}
}

// Sign mints a token of the given kind. Tokens minted at different instants
// for the same subject are distinct strings because each carries a fresh jti.
func (c *Codec) Sign(userID int64, role string, email string, kind Kind, ttl time.Duration) (string, *Claims, error) {
	now := c.now().UTC()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Kind:  kind,
		Role:  role,
		Email: email,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", nil, err
	}

	return signed, claims, nil
}

// Parse verifies signature and expiry and, when expected is non-empty,
// enforces the token kind. A refresh or reset token must never pass as an
// access credential.
func (c *Codec) Parse(raw string, expected Kind) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(c.now))

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return nil, ErrSignatureInvalid
	case err != nil:
		return nil, ErrMalformed
	case !parsed.Valid:
		return nil, ErrMalformed
	}

	if claims.Subject == "" {
		return nil, ErrMalformed
	}
	if _, err := claims.UserID(); err != nil {
		return nil, ErrMalformed
	}

	if expected != "" && claims.Kind != expected {
		return nil, ErrWrongKind
	}

	return claims, nil
}
