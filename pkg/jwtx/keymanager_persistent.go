package jwtx

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// SigningKeyRecord is a signing key as persisted by a KeyStore. The private
// key is sealed; jwtx never sees the storage format.
type SigningKeyRecord struct {
	ID               string
	Kid              string
	Algorithm        string
	PrivateKeySealed []byte
	CreatedAt        time.Time
	RetiredAt        *time.Time
	ExpiresAt        *time.Time
}

// KeyStore is the persistence needed by NewPersistentKeyManager.
type KeyStore interface {
	// ListSigningKeys returns every key that is not yet expired at now.
	ListSigningKeys(ctx context.Context, now time.Time) ([]SigningKeyRecord, error)
	CreateSigningKey(ctx context.Context, key SigningKeyRecord) error
}

// Sealer protects private key material at rest.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

type PersistentKeyManagerOptions struct {
	KeyManagerOptions

	Store  KeyStore
	Sealer Sealer
	// NewID returns a row id for generated keys.
	NewID func() string
	Now   func() time.Time
}

// NewPersistentKeyManager loads stored keys, keeps retired ones for
// verification only, and tops the active set up to NumKeys.
func NewPersistentKeyManager(ctx context.Context, opts PersistentKeyManagerOptions) (*KeyManager, error) {
	if opts.Store == nil || opts.Sealer == nil {
		return nil, errors.New("jwtx: Store and Sealer are required for persistent keys")
	}
	if err := opts.normalise(); err != nil {
		return nil, err
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	now := opts.Now().UTC()

	records, err := opts.Store.ListSigningKeys(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("jwtx: load signing keys: %w", err)
	}

	km := newKeyManager(opts.KeyManagerOptions)
	active := 0
	for _, rec := range records {
		pemData, err := opts.Sealer.Open(rec.PrivateKeySealed)
		if err != nil {
			return nil, fmt.Errorf("jwtx: open key %s: %w", rec.Kid, err)
		}
		s, err := NewSigner(rec.Algorithm, rec.Kid, pemData)
		if err != nil {
			return nil, fmt.Errorf("jwtx: load key %s: %w", rec.Kid, err)
		}

		if rec.RetiredAt != nil {
			if err := km.KeySet.AddSigner(s); err != nil {
				return nil, err
			}
			continue
		}
		if err := km.AddSigner(s); err != nil {
			return nil, err
		}
		active++
	}

	for ; active < opts.NumKeys; active++ {
		rec, s, err := NewSigningKeyRecord(opts.Algorithm, opts.Sealer, opts.NewID, now)
		if err != nil {
			return nil, err
		}
		if err := opts.Store.CreateSigningKey(ctx, rec); err != nil {
			return nil, fmt.Errorf("jwtx: store new key: %w", err)
		}
		if err := km.AddSigner(s); err != nil {
			return nil, err
		}
	}
	return km, nil
}

// NewSigningKeyRecord generates a key for alg and seals it for storage.
func NewSigningKeyRecord(alg string, sealer Sealer, newID func() string, now time.Time) (SigningKeyRecord, *Signer, error) {
	s, pemData, err := GenerateSigner(alg)
	if err != nil {
		return SigningKeyRecord{}, nil, err
	}
	sealed, err := sealer.Seal(pemData)
	if err != nil {
		return SigningKeyRecord{}, nil, fmt.Errorf("jwtx: seal key: %w", err)
	}

	id := s.KID()
	if newID != nil {
		id = newID()
	}
	return SigningKeyRecord{
		ID:               id,
		Kid:              s.KID(),
		Algorithm:        alg,
		PrivateKeySealed: sealed,
		CreatedAt:        now,
	}, s, nil
}
