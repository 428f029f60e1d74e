package auth

import (
	"errors"
	"testing"
	"time"
)

func newAuthenticator(t *testing.T, ttl time.Duration) *Authenticator {
	t.Helper()
	hash, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	return New("admin", hash, "test-secret", ttl)
}

func TestLoginAndVerify(t *testing.T) {
	a := newAuthenticator(t, time.Hour)

	token, err := a.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	subject, err := a.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if subject != "admin" {
		t.Fatalf("subject = %q", subject)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	a := newAuthenticator(t, time.Hour)

	if _, err := a.Login("admin", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := a.Login("root", "hunter2"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	a := newAuthenticator(t, -time.Minute)

	token, err := a.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := a.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsForeignToken(t *testing.T) {
	a := newAuthenticator(t, time.Hour)
	other := New("admin", a.passwordHash, "different-secret", time.Hour)

	token, err := other.Login("admin", "hunter2")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := a.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := a.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}
