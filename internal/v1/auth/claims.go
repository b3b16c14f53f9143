// Package auth keeps the bearer token used by the chat client and reads the claims it
// needs from it. Tokens are issued and verified by the platform API; the client only
// inspects them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrTokenExpired = errors.New("token has expired")

// Claims are the parts of the bearer token the client relies on.
type Claims struct {
	UserID    string
	Username  string
	ExpiresAt time.Time
}

type tokenClaims struct {
	Name       string `json:"name,omitempty"`
	UniqueName string `json:"unique_name,omitempty"`
	jwt.RegisteredClaims
}

// ParseClaims decodes token without verifying its signature.
func ParseClaims(token string) (*Claims, error) {
	var tc tokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &tc); err != nil {
		return nil, fmt.Errorf("malformed token: %w", err)
	}
	if tc.Subject == "" {
		return nil, errors.New("malformed token: missing subject")
	}

	c := &Claims{UserID: tc.Subject, Username: tc.Name}
	if c.Username == "" {
		c.Username = tc.UniqueName
	}
	if tc.ExpiresAt != nil {
		c.ExpiresAt = tc.ExpiresAt.Time
	}
	return c, nil
}

// Expired reports whether the token is past its expiry at now. Tokens without an
// expiry never expire.
func (c *Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

// CheckToken parses token and rejects it when expired.
func CheckToken(token string) (*Claims, error) {
	c, err := ParseClaims(token)
	if err != nil {
		return nil, err
	}
	if c.Expired(time.Now()) {
		return nil, ErrTokenExpired
	}
	return c, nil
}
