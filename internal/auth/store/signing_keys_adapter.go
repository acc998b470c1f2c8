package store

import (
	"context"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
)

// KeyStoreAdapter lets jwtx load and persist signing keys through a Store
// without jwtx knowing about the domain package.
type KeyStoreAdapter struct {
	store Store
}

var _ jwtx.KeyStore = (*KeyStoreAdapter)(nil)

func NewKeyStoreAdapter(store Store) *KeyStoreAdapter {
	return &KeyStoreAdapter{store: store}
}

func (a *KeyStoreAdapter) ListSigningKeys(ctx context.Context, now time.Time) ([]jwtx.SigningKeyRecord, error) {
	keys, err := a.store.SigningKeys().ListSigningKeys(ctx, now)
	if err != nil {
		return nil, err
	}
	records := make([]jwtx.SigningKeyRecord, len(keys))
	for i, k := range keys {
		records[i] = KeyToRecord(k)
	}
	return records, nil
}

func (a *KeyStoreAdapter) CreateSigningKey(ctx context.Context, rec jwtx.SigningKeyRecord) error {
	return a.store.SigningKeys().CreateSigningKey(ctx, RecordToKey(rec))
}

func KeyToRecord(k domain.SigningKey) jwtx.SigningKeyRecord {
	return jwtx.SigningKeyRecord{
		ID:               k.ID,
		Kid:              k.Kid,
		Algorithm:        k.Algorithm,
		PrivateKeySealed: k.PrivateKeySealed,
		CreatedAt:        k.CreatedAt,
		RetiredAt:        k.RetiredAt,
		ExpiresAt:        k.ExpiresAt,
	}
}

func RecordToKey(r jwtx.SigningKeyRecord) domain.SigningKey {
	return domain.SigningKey{
		ID:               r.ID,
		Kid:              r.Kid,
		Algorithm:        r.Algorithm,
		PrivateKeySealed: r.PrivateKeySealed,
		CreatedAt:        r.CreatedAt,
		RetiredAt:        r.RetiredAt,
		ExpiresAt:        r.ExpiresAt,
	}
}
