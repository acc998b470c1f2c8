package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
)

var ErrCiphertextTooShort = errors.New("ciphertext_too_short")

// KeyCipher seals private key material at rest with AES-256-GCM. Output layout
// is nonce || ciphertext || tag.
type KeyCipher struct {
	aead cipher.AEAD
}

// NewKeyCipher derives a 256-bit key from material with SHA-256.
func NewKeyCipher(material []byte) (*KeyCipher, error) {
	if len(material) == 0 {
		return nil, errors.New("master key material is empty")
	}
	key := sha256.Sum256(material)

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &KeyCipher{aead: gcm}, nil
}

// LoadKeyCipher reads master key material from path.
func LoadKeyCipher(path string) (*KeyCipher, error) {
	data, err := os.ReadFile(path) // #nosec G304 - operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read master key file: %w", err)
	}
	return NewKeyCipher(data)
}

// EphemeralKeyCipher uses random material. Anything sealed with it is lost
// when the process exits.
func EphemeralKeyCipher() (*KeyCipher, error) {
	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		return nil, fmt.Errorf("generate ephemeral master key: %w", err)
	}
	return NewKeyCipher(material)
}

func (c *KeyCipher) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return c.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *KeyCipher) Open(sealed []byte) ([]byte, error) {
	n := c.aead.NonceSize()
	if len(sealed) < n+c.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := c.aead.Open(nil, sealed[:n], sealed[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
