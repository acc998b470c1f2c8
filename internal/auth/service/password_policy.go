package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
	"github.com/aussiebroadwan/stockroom/pkg/idx"
)

const (
	DefaultPasswordMinLength = 12
	DefaultPasswordHistory   = 6
	DefaultSpecialChars      = "@$!%*?&"
)

// PasswordPolicy holds the composition rules and the reuse window.
type PasswordPolicy struct {
	MinLength        int
	RequireUppercase bool
	RequireLowercase bool
	RequireNumbers   bool
	RequireSpecial   bool
	SpecialChars     string
	// HistorySize is how many accepted passwords, the current one included,
	// may not be reused.
	HistorySize int
}

func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        DefaultPasswordMinLength,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumbers:   true,
		RequireSpecial:   true,
		SpecialChars:     DefaultSpecialChars,
		HistorySize:      DefaultPasswordHistory,
	}
}

// Validate checks every composition rule and reports all failures at once.
func (p PasswordPolicy) Validate(candidate string) error {
	var reasons []string

	if n := utf8.RuneCountInString(candidate); n < p.MinLength {
		reasons = append(reasons, fmt.Sprintf("must be at least %d characters long", p.MinLength))
	}

	var upper, lower, digit, special bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
		if strings.ContainsRune(p.specials(), r) {
			special = true
		}
	}

	if p.RequireUppercase && !upper {
		reasons = append(reasons, "must contain an uppercase letter")
	}
	if p.RequireLowercase && !lower {
		reasons = append(reasons, "must contain a lowercase letter")
	}
	if p.RequireNumbers && !digit {
		reasons = append(reasons, "must contain a digit")
	}
	if p.RequireSpecial && !special {
		reasons = append(reasons, "must contain one of "+p.specials())
	}

	if len(reasons) > 0 {
		return &PolicyViolationError{Reasons: reasons}
	}
	return nil
}

func (p PasswordPolicy) specials() string {
	if p.SpecialChars == "" {
		return DefaultSpecialChars
	}
	return p.SpecialChars
}

// PasswordPolicyService applies the policy against a user's password
// history. Methods take the store so they run inside the caller's
// transaction.
type PasswordPolicyService struct {
	Policy PasswordPolicy
	Hasher cryptox.PasswordHasher
	Clock  Clock
}

func (s *PasswordPolicyService) Validate(candidate string) error {
	return s.Policy.Validate(candidate)
}

// RejectIfReused compares candidate with the newest HistorySize entries.
func (s *PasswordPolicyService) RejectIfReused(ctx context.Context, st store.Store, userID, candidate string) error {
	if s.Policy.HistorySize <= 0 {
		return nil
	}
	entries, err := st.PasswordHistory().ListRecentPasswordHistory(ctx, userID, s.Policy.HistorySize)
	if err != nil {
		return fmt.Errorf("load password history: %w", err)
	}
	for _, e := range entries {
		err := s.Hasher.Verify(candidate, e.PasswordHash)
		if err == nil {
			return &PolicyViolationError{Reasons: []string{
				fmt.Sprintf("must not match any of the last %d passwords", s.Policy.HistorySize),
			}}
		}
		if !errors.Is(err, cryptox.ErrPasswordMismatch) {
			return fmt.Errorf("compare password history: %w", err)
		}
	}
	return nil
}

// Remember appends an accepted hash and prunes entries beyond the window.
func (s *PasswordPolicyService) Remember(ctx context.Context, st store.Store, userID, hash string) error {
	now := s.Clock.Now()
	err := st.PasswordHistory().AddPasswordHistory(ctx, domain.PasswordHistoryEntry{
		ID:           idx.NewAt(now).String(),
		UserID:       userID,
		PasswordHash: hash,
		CreatedAt:    now,
	})
	if err != nil {
		return err
	}
	keep := max(s.Policy.HistorySize, 1)
	_, err = st.PasswordHistory().PrunePasswordHistory(ctx, userID, keep)
	return err
}

// hashIfAcceptable is validate, reject reuse, then hash.
func (s *PasswordPolicyService) hashIfAcceptable(ctx context.Context, st store.Store, userID, candidate string) (string, error) {
	if err := s.Validate(candidate); err != nil {
		return "", err
	}
	if userID != "" {
		if err := s.RejectIfReused(ctx, st, userID, candidate); err != nil {
			return "", err
		}
	}
	return s.Hasher.Hash(candidate)
}
