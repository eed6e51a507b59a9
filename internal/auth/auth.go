// Package auth is the hub's narrow interface to the external identity layer.
//
// The hub never stores accounts or credentials. In jwt mode it verifies that
// the token presented at websocket upgrade time names the identity the client
// registers as; in none mode the client-supplied identity is trusted.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/parley-app/parley/internal/config"
)

var (
	ErrMissingToken     = errors.New("auth: missing token")
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrIdentityMismatch = errors.New("auth: token subject does not match claimed identity")
)

type Authenticator struct {
	mode   config.AuthMode
	secret []byte
}

func New(cfg config.Config) (*Authenticator, error) {
	switch cfg.AuthMode {
	case config.AuthModeNone:
		return &Authenticator{mode: cfg.AuthMode}, nil
	case config.AuthModeJWT:
		if cfg.JWTSecret == "" {
			return nil, errors.New("auth: jwt mode requires a secret")
		}
		return &Authenticator{mode: cfg.AuthMode, secret: []byte(cfg.JWTSecret)}, nil
	default:
		return nil, fmt.Errorf("auth: unsupported mode %q", cfg.AuthMode)
	}
}

// Identity resolves the identity a client may register as. claimed is the
// userId from the register message; token is the bearer token presented at
// upgrade time (empty when none was sent).
func (a *Authenticator) Identity(claimed, token string) (string, error) {
	if a.mode == config.AuthModeNone {
		return claimed, nil
	}

	if token == "" {
		return "", ErrMissingToken
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	if claimed != "" && claimed != claims.Subject {
		return "", ErrIdentityMismatch
	}
	return claims.Subject, nil
}
