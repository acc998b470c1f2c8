package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
)

// Token use markers. A refresh token is never accepted where an access token
// is expected and vice versa.
const (
	UseAccess  = "access"
	UseRefresh = "refresh"
)

// Claims is the payload of every token minted by the authority. Refresh
// tokens only carry the registered claims and TokenUse.
type Claims struct {
	jwt.RegisteredClaims

	TokenUse string `json:"token_use"`

	Username    string   `json:"username,omitempty"`
	Email       string   `json:"email,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Identity is the subject data embedded into an access token.
type Identity struct {
	Subject     string
	Username    string
	Email       string
	Roles       []string
	Permissions []string
}

func NewAccessClaims(id Identity, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: registered(id.Subject, issuer, ttl, now),
		TokenUse:         UseAccess,
		Username:         id.Username,
		Email:            id.Email,
		Roles:            id.Roles,
		Permissions:      id.Permissions,
	}
}

func NewRefreshClaims(subject, issuer string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: registered(subject, issuer, ttl, now),
		TokenUse:         UseRefresh,
	}
}

func registered(subject, issuer string, ttl time.Duration, now time.Time) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		ID:        NewJTI(),
	}
}

// NewJTI returns 160 random bits, base64url encoded. Two refresh tokens
// minted for the same user in the same second still differ.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// HasPermission reports whether p is among the embedded permissions.
func (c *Claims) HasPermission(p string) bool {
	for _, have := range c.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

func (c *Claims) HasRole(r string) bool {
	for _, have := range c.Roles {
		if have == r {
			return true
		}
	}
	return false
}
