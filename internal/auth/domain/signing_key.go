package domain

import "time"

// SigningKey is a JWT signing key at rest. The private key PEM is sealed with
// the master key. Retired keys still verify until ExpiresAt.
type SigningKey struct {
	ID               string
	Kid              string
	Algorithm        string // EdDSA or ES256
	PrivateKeySealed []byte
	CreatedAt        time.Time
	RetiredAt        *time.Time
	ExpiresAt        *time.Time // nil while active
}

func (k *SigningKey) IsActive(now time.Time) bool {
	return k.RetiredAt == nil && !k.IsExpired(now)
}

func (k *SigningKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && !now.Before(*k.ExpiresAt)
}
