package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/idx"
	"github.com/aussiebroadwan/stockroom/pkg/jwtx"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
)

// DefaultKeyGracePeriod keeps retired keys verifiable for the longest
// refresh token lifetime with margin.
const DefaultKeyGracePeriod = 30 * 24 * time.Hour

// KeyRotationService rotates and retires signing keys at runtime.
//
// With a nil Store keys live in the KeyManager only and retired keys verify
// until restart. With a Store new keys are sealed and persisted, and retired
// keys verify until GracePeriod ends.
type KeyRotationService struct {
	Store       store.Store
	KeyManager  *jwtx.KeyManager
	Sealer      jwtx.Sealer
	GracePeriod time.Duration
	Clock       Clock
}

type RotateKeyRequest struct {
	// RetireExisting retires every currently active key once the new one
	// is in place.
	RetireExisting bool `json:"retire_existing"`
}

// KeyInfo is the public view of a signing key.
type KeyInfo struct {
	Kid       string     `json:"kid"`
	Algorithm string     `json:"alg"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type RotateKeyResponse struct {
	NewKey      KeyInfo   `json:"new_key"`
	RetiredKeys []KeyInfo `json:"retired_keys,omitempty"`
	ActiveKeys  int       `json:"active_keys"`
}

func (s *KeyRotationService) grace() time.Duration {
	if s.GracePeriod <= 0 {
		return DefaultKeyGracePeriod
	}
	return s.GracePeriod
}

func (s *KeyRotationService) persistent() bool { return s.Store != nil }

// RotateKey adds a fresh signing key and optionally retires the others.
func (s *KeyRotationService) RotateKey(ctx context.Context, req RotateKeyRequest) (*RotateKeyResponse, error) {
	now := s.Clock.Now()
	alg := s.KeyManager.Algorithm()
	expires := now.Add(s.grace())
	previous := s.KeyManager.Signers()

	var (
		signer *jwtx.Signer
		resp   RotateKeyResponse
	)

	if s.persistent() {
		rec, sg, err := jwtx.NewSigningKeyRecord(alg, s.Sealer, func() string { return idx.NewAt(now).String() }, now)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		err = s.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.SigningKeys().CreateSigningKey(ctx, store.RecordToKey(rec)); err != nil {
				return fmt.Errorf("store signing key: %w", err)
			}
			if !req.RetireExisting {
				return nil
			}
			for _, old := range previous {
				err := tx.SigningKeys().RetireSigningKey(ctx, old.KID(), now, expires)
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("retire key %s: %w", old.KID(), err)
				}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		signer = sg
	} else {
		sg, _, err := jwtx.GenerateSigner(alg)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		signer = sg
	}

	// The new key goes in before any retirement so there is always a signer.
	if err := s.KeyManager.AddSigner(signer); err != nil {
		return nil, err
	}
	resp.NewKey = KeyInfo{Kid: signer.KID(), Algorithm: alg, CreatedAt: &now}

	if req.RetireExisting {
		for _, old := range previous {
			if err := s.KeyManager.RetireSigner(old.KID()); err != nil {
				return nil, fmt.Errorf("retire key %s: %w", old.KID(), err)
			}
			info := KeyInfo{Kid: old.KID(), Algorithm: old.Alg(), RetiredAt: &now}
			if s.persistent() {
				info.ExpiresAt = &expires
			}
			resp.RetiredKeys = append(resp.RetiredKeys, info)
		}
	}
	resp.ActiveKeys = s.KeyManager.NumSigners()

	slogx.FromContext(ctx).Info("signing key rotated",
		"kid", signer.KID(),
		"retired", len(resp.RetiredKeys),
		"active_keys", resp.ActiveKeys,
	)
	return &resp, nil
}

// ListKeys returns stored keys that have not expired, or the active
// in-memory signers when keys are ephemeral.
func (s *KeyRotationService) ListKeys(ctx context.Context) ([]KeyInfo, error) {
	if !s.persistent() {
		signers := s.KeyManager.Signers()
		out := make([]KeyInfo, len(signers))
		for i, sg := range signers {
			out[i] = KeyInfo{Kid: sg.KID(), Algorithm: sg.Alg()}
		}
		return out, nil
	}

	keys, err := s.Store.SigningKeys().ListSigningKeys(ctx, s.Clock.Now())
	if err != nil {
		return nil, err
	}
	out := make([]KeyInfo, len(keys))
	for i, k := range keys {
		created := k.CreatedAt
		out[i] = KeyInfo{
			Kid:       k.Kid,
			Algorithm: k.Algorithm,
			CreatedAt: &created,
			RetiredAt: k.RetiredAt,
			ExpiresAt: k.ExpiresAt,
		}
	}
	return out, nil
}

// RetireKey stops signing with kid. Tokens it signed keep verifying.
func (s *KeyRotationService) RetireKey(ctx context.Context, kid string) error {
	if err := s.KeyManager.RetireSigner(kid); err != nil {
		switch {
		case errors.Is(err, jwtx.ErrLastSigner):
			return ErrLastSigningKey
		case errors.Is(err, jwtx.ErrNoKey):
			return ErrKeyNotFound
		}
		return err
	}

	if s.persistent() {
		now := s.Clock.Now()
		err := s.Store.SigningKeys().RetireSigningKey(ctx, kid, now, now.Add(s.grace()))
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("retire key: %w", err)
		}
	}

	slogx.FromContext(ctx).Info("signing key retired", "kid", kid)
	return nil
}
