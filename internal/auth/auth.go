// Package auth issues and verifies admin session tokens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned on a bad username or password.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrInvalidToken is returned for expired, malformed or forged tokens.
	ErrInvalidToken = errors.New("auth: invalid token")
)

// Authenticator validates the single admin account and mints HS256 JWTs.
type Authenticator struct {
	username     string
	passwordHash string
	secret       []byte
	ttl          time.Duration
}

func New(username, passwordHash, jwtSecret string, ttl time.Duration) *Authenticator {
	return &Authenticator{
		username:     username,
		passwordHash: passwordHash,
		secret:       []byte(jwtSecret),
		ttl:          ttl,
	}
}

// Login checks the credentials and returns a signed token on success.
func (a *Authenticator) Login(username, password string) (string, error) {
	if username != a.username || a.passwordHash == "" {
		// burn a comparison anyway so the two failure paths take similar time
		_ = bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000u"), []byte(password))
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(a.passwordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    "bookstore",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// Verify parses the token and returns the subject it was issued to.
func (a *Authenticator) Verify(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return a.secret, nil
		})
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// HashPassword produces a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
