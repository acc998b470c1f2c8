package cryptox

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestArgon2idHasher_HashFormat(t *testing.T) {
	h := NewArgon2idHasher("pepper")

	hash, err := h.Hash("Str0ng!Password")
	require.NoError(t, err)

	parts := strings.Split(hash, "$")
	require.Len(t, parts, 6)
	require.Equal(t, "argon2id", parts[1])
	require.Equal(t, "v=19", parts[2])
	require.Equal(t, "m=19456,t=2,p=1", parts[3])
	require.NotEmpty(t, parts[4])
	require.NotEmpty(t, parts[5])
	require.NotContains(t, hash, "Str0ng!Password")
}

func TestArgon2idHasher_Verify(t *testing.T) {
	h := NewArgon2idHasher("pepper")

	tests := []struct {
		name     string
		password string
	}{
		{"ascii", "Str0ng!Password"},
		{"empty", ""},
		{"unicode", "пароль🔒密码"},
		{"long", strings.Repeat("a", 200)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := h.Hash(tt.password)
			require.NoError(t, err)
			require.NoError(t, h.Verify(tt.password, hash))
			require.ErrorIs(t, h.Verify(tt.password+"x", hash), ErrPasswordMismatch)
		})
	}
}

func TestArgon2idHasher_UniqueSalts(t *testing.T) {
	h := NewArgon2idHasher("")

	a, err := h.Hash("same")
	require.NoError(t, err)
	b, err := h.Hash("same")
	require.NoError(t, err)

	require.NotEqual(t, a, b)
	require.NoError(t, h.Verify("same", a))
	require.NoError(t, h.Verify("same", b))
}

func TestArgon2idHasher_PepperMatters(t *testing.T) {
	a := NewArgon2idHasher("pepper-a")
	b := NewArgon2idHasher("pepper-b")

	hash, err := a.Hash("secret")
	require.NoError(t, err)
	require.ErrorIs(t, b.Verify("secret", hash), ErrPasswordMismatch)
}

func TestArgon2idHasher_InvalidHash(t *testing.T) {
	h := NewArgon2idHasher("")

	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"other algorithm", "$scrypt$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
		{"missing parts", "$argon2id$v=19$m=19456"},
		{"bad parameters", "$argon2id$v=19$invalid$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=19456,t=2,p=1$!!!$aGFzaA"},
		{"bad hash", "$argon2id$v=19$m=19456,t=2,p=1$c2FsdA$!!!"},
		{"wrong version", "$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Verify("x", tt.hash)
			require.Error(t, err)
			require.NotErrorIs(t, err, ErrPasswordMismatch)
		})
	}
}

func TestArgon2idHasher_NeedsRehash(t *testing.T) {
	h := NewArgon2idHasher("")
	hash, err := h.Hash("x")
	require.NoError(t, err)
	require.False(t, h.NeedsRehash(hash))

	stronger := NewArgon2idHasher("")
	stronger.Iterations = 3
	require.True(t, stronger.NeedsRehash(hash))
	require.True(t, h.NeedsRehash("$2a$10$abcdefghijklmnopqrstuv"))
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(bcrypt.MinCost)

	hash, err := h.Hash("legacy-password")
	require.NoError(t, err)
	require.True(t, h.Supports(hash))
	require.NoError(t, h.Verify("legacy-password", hash))
	require.ErrorIs(t, h.Verify("other", hash), ErrPasswordMismatch)
	require.False(t, h.NeedsRehash(hash))
	require.True(t, NewBcryptHasher(bcrypt.MinCost+1).NeedsRehash(hash))

	require.ErrorIs(t, h.Verify("x", "$argon2id$v=19$m=1,t=1,p=1$c2FsdA$aGFzaA"), ErrUnknownHashFormat)
}

func TestHasherChain(t *testing.T) {
	argon := NewArgon2idHasher("pepper")
	legacy := NewBcryptHasher(bcrypt.MinCost)
	chain := NewHasherChain(argon, legacy)

	t.Run("new hashes use the primary", func(t *testing.T) {
		hash, err := chain.Hash("secret")
		require.NoError(t, err)
		require.True(t, argon.Supports(hash))
		require.NoError(t, chain.Verify("secret", hash))
		require.False(t, chain.NeedsRehash(hash))
	})

	t.Run("legacy hashes verify and need rehash", func(t *testing.T) {
		old, err := legacy.Hash("secret")
		require.NoError(t, err)
		require.NoError(t, chain.Verify("secret", old))
		require.ErrorIs(t, chain.Verify("nope", old), ErrPasswordMismatch)
		require.True(t, chain.NeedsRehash(old))
	})

	t.Run("unknown format", func(t *testing.T) {
		require.False(t, chain.Supports("plaintext"))
		require.ErrorIs(t, chain.Verify("plaintext", "plaintext"), ErrUnknownHashFormat)
	})

	t.Run("no primary", func(t *testing.T) {
		_, err := NewHasherChain(nil).Hash("x")
		require.ErrorIs(t, err, ErrNoHasherConfigured)
	})
}

func TestGeneratePassword(t *testing.T) {
	const specials = "@$!%*?&"
	seen := make(map[string]bool)

	for range 50 {
		p, err := GeneratePassword(16, specials)
		require.NoError(t, err)
		require.Len(t, p, 16)
		require.True(t, strings.ContainsAny(p, "ABCDEFGHIJKLMNOPQRSTUVWXYZ"))
		require.True(t, strings.ContainsAny(p, "abcdefghijklmnopqrstuvwxyz"))
		require.True(t, strings.ContainsAny(p, "0123456789"))
		require.True(t, strings.ContainsAny(p, specials))
		require.False(t, seen[p])
		seen[p] = true
	}

	_, err := GeneratePassword(3, specials)
	require.Error(t, err)
}

func TestLoadOrCreatePepper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pepper")

	first, err := LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	second, err := LoadOrCreatePepper(path)
	require.NoError(t, err)
	require.Equal(t, first, second)

	_, err = LoadOrCreatePepper("")
	require.Error(t, err)
}
