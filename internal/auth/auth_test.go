package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parley-app/parley/internal/config"
)

func signToken(t *testing.T, secret, subject string, expiresIn time.Duration) string {
	t.Helper()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	})
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return signed
}

func TestIdentity_NoneModeTrustsClaim(t *testing.T) {
	a, err := New(config.Config{AuthMode: config.AuthModeNone})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := a.Identity("alice", "")
	if err != nil || got != "alice" {
		t.Fatalf("identity=%q err=%v", got, err)
	}
}

func TestIdentity_JWTModeUsesSubject(t *testing.T) {
	a, err := New(config.Config{AuthMode: config.AuthModeJWT, JWTSecret: "s3cret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	token := signToken(t, "s3cret", "alice", time.Minute)

	got, err := a.Identity("", token)
	if err != nil || got != "alice" {
		t.Fatalf("identity=%q err=%v", got, err)
	}

	// Claimed identity must agree with the token subject.
	if _, err := a.Identity("mallory", token); !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("err=%v, want ErrIdentityMismatch", err)
	}
}

func TestIdentity_JWTModeRejections(t *testing.T) {
	a, err := New(config.Config{AuthMode: config.AuthModeJWT, JWTSecret: "s3cret"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, err := a.Identity("alice", ""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("err=%v, want ErrMissingToken", err)
	}

	wrongKey := signToken(t, "other", "alice", time.Minute)
	if _, err := a.Identity("alice", wrongKey); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v, want ErrInvalidToken", err)
	}

	expired := signToken(t, "s3cret", "alice", -time.Minute)
	if _, err := a.Identity("alice", expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("err=%v, want ErrInvalidToken", err)
	}
}

func TestNew_JWTModeRequiresSecret(t *testing.T) {
	if _, err := New(config.Config{AuthMode: config.AuthModeJWT}); err == nil {
		t.Fatalf("expected error")
	}
}
