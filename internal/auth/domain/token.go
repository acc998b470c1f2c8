package domain

import "time"

// TokenPair is what a successful authentication or refresh hands back.
// RefreshToken is empty on a non-rotating refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"` // seconds
}

// RefreshToken is the stored form of an issued refresh token. Only the
// fingerprint of the raw value is kept.
type RefreshToken struct {
	ID        string
	UserID    string
	TokenHash string // base64url SHA-256
	ExpiresAt time.Time
	IPAddress *string
	UserAgent *string
	Revoked   bool
	RevokedAt *time.Time
	CreatedAt time.Time
}

// Valid reports !revoked && now < expiresAt.
func (t *RefreshToken) Valid(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
