// Package auth issues and verifies the bearer tokens that identify an
// account on the API. Tokens are HS256 JWTs whose subject is the account.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fintrack/internal/core"
	"fintrack/internal/store"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("JWT token is invalid")
	ErrExpiredToken = errors.New("JWT token is expired")
)

const (
	DefaultTokenDuration = 24 * time.Hour
	minSecretLength      = 16
)

type Manager struct {
	secret []byte
	now    func() time.Time
}

func NewManager(secret string) (*Manager, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("%w: JWT secret must be at least %d bytes", core.ErrConfiguration, minSecretLength)
	}
	return &Manager{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for account valid for d.
func (m *Manager) Issue(account string, d time.Duration) (string, error) {
	if !store.ValidSegment(account) {
		return "", fmt.Errorf("invalid account %q", account)
	}
	if d <= 0 {
		d = DefaultTokenDuration
	}
	now := m.now()
	claims := jwt.RegisteredClaims{
		Subject:   account,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(d)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Validate checks signature and expiry and returns the token's account.
func (m *Manager) Validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims,
		func(*jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrExpiredToken
		}
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || !store.ValidSegment(claims.Subject) {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
