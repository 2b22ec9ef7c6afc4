// Package auth provides credentials, session identity and third-party login.
//
// SESSION FLOW OVERVIEW:
//  1. A user logs in with a password (or through GitHub OAuth)
//  2. The server issues a signed session token (JWT) in an HttpOnly cookie
//  3. Identify middleware validates the cookie on every request and loads the
//     user, producing a model.Identity (Anonymous or Authenticated)
//  4. Logout deletes the cookie and bumps the user's token version
//
// The token carries the user ID and the user's token version at issue time.
// The user row is loaded on every request, so admin flag changes, deleted
// accounts and revoked sessions take effect immediately.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "catalog"

// DefaultSessionTTL is used when NewTokenService gets a non-positive TTL.
const DefaultSessionTTL = 24 * time.Hour

// TokenService signs and validates session tokens with an HMAC secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret and token
// lifetime. The secret must be at least 16 characters.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// TTL returns the lifetime of issued tokens (used for the cookie MaxAge).
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

type claims struct {
	jwt.RegisteredClaims
	Version int `json:"ver"`
}

// Session is what a valid token says about its holder.
type Session struct {
	UserID string
	// Version is the user's token version when the token was issued. A token
	// whose version no longer matches the user row has been revoked.
	Version int
}

// Generate issues a session token for userID with the configured lifetime.
func (s *TokenService) Generate(userID string, version int) (string, error) {
	return s.GenerateWithDuration(userID, version, s.ttl)
}

// GenerateWithDuration issues a token with a custom lifetime.
// Used in tests to produce already-expired tokens.
func (s *TokenService) GenerateWithDuration(userID string, version int, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		Version: version,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// Validate parses a token and returns the user ID in its subject.
func (s *TokenService) Validate(tokenStr string) (string, error) {
	sess, err := s.Parse(tokenStr)
	if err != nil {
		return "", err
	}
	return sess.UserID, nil
}

// Parse checks a token's signature and claims and returns the session it
// describes.
//
// Only HS256 tokens from this issuer with an expiry are accepted, which
// rules out "alg: none" and tokens minted by other services.
func (s *TokenService) Parse(tokenStr string) (Session, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, fmt.Errorf("auth: token expired")
		}
		return Session{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Session{}, fmt.Errorf("auth: invalid token claims")
	}

	if c.Subject == "" {
		return Session{}, fmt.Errorf("auth: token has no subject")
	}

	return Session{UserID: c.Subject, Version: c.Version}, nil
}
