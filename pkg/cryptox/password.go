package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordMismatch   = errors.New("password_mismatch")
	ErrUnknownHashFormat  = errors.New("unknown_hash_format")
	ErrMalformedHash      = errors.New("malformed_hash")
	ErrNoHasherConfigured = errors.New("no_hasher_configured")
)

// PasswordHasher produces and checks one-way password hashes. Encoded hashes
// are self-describing so a hasher can tell whether it owns a stored value.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encoded string) error
	Supports(encoded string) bool
	NeedsRehash(encoded string) bool
}

// Argon2id parameters for newly produced hashes.
const (
	memory      = 19 * 1024 // KiB
	iterations  = 2
	parallelism = 1
	keyLength   = 32
	saltLength  = 16
)

// Argon2idHasher hashes passwords with argon2id in PHC string format. The
// pepper is appended to the password before hashing and never stored.
type Argon2idHasher struct {
	Pepper      string
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
}

func NewArgon2idHasher(pepper string) *Argon2idHasher {
	return &Argon2idHasher{
		Pepper:      pepper,
		Memory:      memory,
		Iterations:  iterations,
		Parallelism: parallelism,
	}
}

func (h *Argon2idHasher) Hash(password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	sum := argon2.IDKey([]byte(password+h.Pepper), salt, h.Iterations, h.Memory, h.Parallelism, keyLength)

	return fmt.Sprintf(
		"$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		h.Memory,
		h.Iterations,
		h.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	), nil
}

func (h *Argon2idHasher) Verify(password, encoded string) error {
	p, err := parseArgon2id(encoded)
	if err != nil {
		return err
	}

	computed := argon2.IDKey(
		[]byte(password+h.Pepper),
		p.salt,
		p.iterations,
		p.memory,
		p.parallelism,
		uint32(len(p.sum)), // #nosec G115 - bounded by the stored hash
	)
	if subtle.ConstantTimeCompare(computed, p.sum) == 1 {
		return nil
	}
	return ErrPasswordMismatch
}

func (h *Argon2idHasher) Supports(encoded string) bool {
	return strings.HasPrefix(encoded, "$argon2id$")
}

// NeedsRehash reports true for foreign formats and for argon2id hashes made
// with different cost parameters.
func (h *Argon2idHasher) NeedsRehash(encoded string) bool {
	p, err := parseArgon2id(encoded)
	if err != nil {
		return true
	}
	return p.memory != h.Memory || p.iterations != h.Iterations || p.parallelism != h.Parallelism
}

type argon2idParams struct {
	memory      uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	sum         []byte
}

// parseArgon2id splits $argon2id$v=19$m=X,t=Y,p=Z$salt$hash.
func parseArgon2id(encoded string) (*argon2idParams, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, ErrMalformedHash
	}
	if parts[1] != "argon2id" {
		return nil, ErrUnknownHashFormat
	}
	if parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, parts[2])
	}

	var p argon2idParams
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.iterations, &p.parallelism); err != nil {
		return nil, fmt.Errorf("%w: parameters: %v", ErrMalformedHash, err)
	}

	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	if p.sum, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil {
		return nil, fmt.Errorf("%w: hash: %v", ErrMalformedHash, err)
	}
	if len(p.sum) == 0 {
		return nil, ErrMalformedHash
	}
	return &p, nil
}

// BcryptHasher hashes with bcrypt. Hashes imported from older deployments
// use this format.
type BcryptHasher struct {
	Cost int
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (h *BcryptHasher) Verify(password, encoded string) error {
	if !h.Supports(encoded) {
		return ErrUnknownHashFormat
	}
	err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return ErrPasswordMismatch
	default:
		return fmt.Errorf("%w: %v", ErrMalformedHash, err)
	}
}

func (h *BcryptHasher) Supports(encoded string) bool {
	return strings.HasPrefix(encoded, "$2a$") ||
		strings.HasPrefix(encoded, "$2b$") ||
		strings.HasPrefix(encoded, "$2y$")
}

func (h *BcryptHasher) NeedsRehash(encoded string) bool {
	cost, err := bcrypt.Cost([]byte(encoded))
	if err != nil {
		return true
	}
	return cost != h.Cost
}

// HasherChain hashes with Primary and verifies with whichever configured
// hasher recognises the stored format.
type HasherChain struct {
	Primary  PasswordHasher
	Fallback []PasswordHasher
}

func NewHasherChain(primary PasswordHasher, fallback ...PasswordHasher) *HasherChain {
	return &HasherChain{Primary: primary, Fallback: fallback}
}

func (c *HasherChain) Hash(password string) (string, error) {
	if c.Primary == nil {
		return "", ErrNoHasherConfigured
	}
	return c.Primary.Hash(password)
}

func (c *HasherChain) Verify(password, encoded string) error {
	h := c.lookup(encoded)
	if h == nil {
		return ErrUnknownHashFormat
	}
	return h.Verify(password, encoded)
}

func (c *HasherChain) Supports(encoded string) bool {
	return c.lookup(encoded) != nil
}

// NeedsRehash is true whenever the primary hasher would not have produced
// encoded as-is.
func (c *HasherChain) NeedsRehash(encoded string) bool {
	if c.Primary == nil {
		return false
	}
	if !c.Primary.Supports(encoded) {
		return true
	}
	return c.Primary.NeedsRehash(encoded)
}

func (c *HasherChain) lookup(encoded string) PasswordHasher {
	if c.Primary != nil && c.Primary.Supports(encoded) {
		return c.Primary
	}
	for _, h := range c.Fallback {
		if h.Supports(encoded) {
			return h
		}
	}
	return nil
}

// GeneratePassword returns a random password of the given length that
// contains at least one upper case letter, lower case letter, digit and one
// character from specials.
func GeneratePassword(length int, specials string) (string, error) {
	const (
		upper  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
		lower  = "abcdefghijklmnopqrstuvwxyz"
		digits = "0123456789"
	)
	if specials == "" {
		specials = "@$!%*?&"
	}
	classes := []string{upper, lower, digits, specials}
	if length < len(classes) {
		return "", fmt.Errorf("password length must be at least %d, got %d", len(classes), length)
	}
	all := upper + lower + digits + specials

	out := make([]byte, length)
	for i := range out {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		c, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out[i] = c
	}

	// Shuffle so the guaranteed classes are not always at the front.
	for i := len(out) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return "", fmt.Errorf("failed to generate random password: %w", err)
		}
		j := n.Int64()
		out[i], out[j] = out[j], out[i]
	}
	return string(out), nil
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, fmt.Errorf("failed to generate random password: %w", err)
	}
	return set[n.Int64()], nil
}
