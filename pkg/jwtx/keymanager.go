package jwtx

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
)

const maxSigningKeys = 10

var ErrLastSigner = errors.New("jwtx: cannot retire the last signing key")

// KeyManager owns the active signing keys and the verification KeySet.
// Retired keys stay in the KeySet so tokens they signed keep verifying.
type KeyManager struct {
	KeySet   *KeySet
	Verifier *Verifier

	algorithm string

	mu      sync.RWMutex
	signers []*Signer
}

type KeyManagerOptions struct {
	// Algorithm for newly generated keys: EdDSA or ES256.
	Algorithm string
	Issuer    string
	// NumKeys active signing keys, clamped to [1, 10]. Zero means 3.
	NumKeys int
	Leeway  time.Duration
}

func (o *KeyManagerOptions) normalise() error {
	if o.Issuer == "" {
		return errors.New("jwtx: Issuer is required")
	}
	if o.Algorithm != AlgorithmEdDSA && o.Algorithm != AlgorithmES256 {
		return fmt.Errorf("jwtx: unsupported algorithm %q (supported: EdDSA, ES256)", o.Algorithm)
	}
	if o.NumKeys <= 0 {
		o.NumKeys = 3
	}
	o.NumKeys = min(o.NumKeys, maxSigningKeys)
	return nil
}

func newKeyManager(opts KeyManagerOptions) *KeyManager {
	ks := NewKeySet()
	return &KeyManager{
		KeySet:    ks,
		Verifier:  NewVerifier(ks, opts.Issuer, opts.Leeway),
		algorithm: opts.Algorithm,
	}
}

// NewEphemeralKeyManager generates NumKeys in-memory keys. Every token issued
// before a restart stops verifying after it.
func NewEphemeralKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if err := opts.normalise(); err != nil {
		return nil, err
	}

	km := newKeyManager(opts)
	for i := range opts.NumKeys {
		s, _, err := GenerateSigner(opts.Algorithm)
		if err != nil {
			return nil, fmt.Errorf("jwtx: generate signer %d: %w", i+1, err)
		}
		if err := km.AddSigner(s); err != nil {
			return nil, err
		}
	}
	return km, nil
}

// GenerateSigner creates a fresh key pair for alg with a random kid and
// returns the signer together with its PKCS8 PEM.
func GenerateSigner(alg string) (*Signer, []byte, error) {
	var (
		pemData []byte
		err     error
	)
	switch alg {
	case AlgorithmEdDSA:
		pemData, err = cryptox.GenerateEd25519Key()
	case AlgorithmES256:
		pemData, err = cryptox.GenerateES256Key()
	default:
		return nil, nil, fmt.Errorf("jwtx: unsupported algorithm %q", alg)
	}
	if err != nil {
		return nil, nil, err
	}

	kid, err := NewKeyID()
	if err != nil {
		return nil, nil, err
	}
	s, err := NewSigner(alg, kid, pemData)
	if err != nil {
		return nil, nil, err
	}
	return s, pemData, nil
}

// NewKeyID returns "stockroom-" followed by 128 random bits.
func NewKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("jwtx: generate key id: %w", err)
	}
	return "stockroom-" + token, nil
}

func (km *KeyManager) Algorithm() string { return km.algorithm }
func (km *KeyManager) IsReady() bool     { return km.KeySet.IsReady() && km.NumSigners() > 0 }

// Signer picks one active signer at random.
func (km *KeyManager) Signer() *Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	default:
		return km.signers[rand.IntN(len(km.signers))]
	}
}

// Sign signs claims with a randomly selected active key.
func (km *KeyManager) Sign(c Claims) (string, error) {
	s := km.Signer()
	if s == nil {
		return "", errors.New("jwtx: no active signing key")
	}
	return s.Sign(c)
}

func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

// AddSigner makes s available for signing and verification.
func (km *KeyManager) AddSigner(s *Signer) error {
	if s == nil {
		return errors.New("jwtx: nil signer")
	}
	if err := km.KeySet.AddSigner(s); err != nil {
		return fmt.Errorf("jwtx: add signer to keyset: %w", err)
	}

	km.mu.Lock()
	defer km.mu.Unlock()
	km.signers = append(km.signers, s)
	return nil
}

// RetireSigner stops signing with kid. The public key stays verifiable.
func (km *KeyManager) RetireSigner(kid string) error {
	km.mu.Lock()
	defer km.mu.Unlock()

	i := -1
	for n, s := range km.signers {
		if s.KID() == kid {
			i = n
			break
		}
	}
	if i < 0 {
		return fmt.Errorf("jwtx: signer %q: %w", kid, ErrNoKey)
	}
	if len(km.signers) == 1 {
		return ErrLastSigner
	}
	km.signers = append(km.signers[:i:i], km.signers[i+1:]...)
	return nil
}

// Forget removes kid entirely. Used once a retired key's grace period ends.
func (km *KeyManager) Forget(kid string) {
	km.mu.Lock()
	for i, s := range km.signers {
		if s.KID() == kid {
			km.signers = append(km.signers[:i:i], km.signers[i+1:]...)
			break
		}
	}
	km.mu.Unlock()
	km.KeySet.Remove(kid)
}

func (km *KeyManager) Signers() []*Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()
	out := make([]*Signer, len(km.signers))
	copy(out, km.signers)
	return out
}
