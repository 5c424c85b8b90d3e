// Package auth verifies the signed session tokens carried on the WebSocket
// upgrade request. The dashboard's session layer mints these tokens after
// login; this service only needs to check the signature and read the
// identity claims, so the connection never has to trust a client-asserted
// user id.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyToken   = errors.New("empty session token")
	ErrInvalidToken = errors.New("invalid session token")
)

// Identity is the verified session identity bound to a connection.
type Identity struct {
	UserID  int64
	IsAdmin bool
}

// Claims is the JWT claim set used by the dashboard session layer.
type Claims struct {
	UserID  int64 `json:"uid"`
	IsAdmin bool  `json:"adm"`
	jwt.RegisteredClaims
}

// TokenVerifier validates HMAC-SHA256 session tokens.
type TokenVerifier struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenVerifier builds a verifier for the shared session secret. ttl is
// used only when issuing tokens; verification honors whatever expiry the
// token carries.
func NewTokenVerifier(secret string, ttl time.Duration) (*TokenVerifier, error) {
	if secret == "" {
		return nil, errors.New("session token secret must not be empty")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &TokenVerifier{secret: []byte(secret), ttl: ttl}, nil
}

// Issue mints a token for the given identity. The session layer is the
// production issuer; this method exists for it, for local development, and
// for tests.
func (v *TokenVerifier) Issue(id Identity) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:  id.UserID,
		IsAdmin: id.IsAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Verify checks the signature and expiry and returns the embedded identity.
// Only HMAC-signed tokens are accepted; an RS256 header or any other
// algorithm confusion fails verification.
func (v *TokenVerifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrEmptyToken
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if claims.UserID <= 0 {
		return Identity{}, fmt.Errorf("%w: missing uid claim", ErrInvalidToken)
	}

	return Identity{UserID: claims.UserID, IsAdmin: claims.IsAdmin}, nil
}
