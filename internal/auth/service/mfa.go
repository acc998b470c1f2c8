package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"time"

	"github.com/aussiebroadwan/stockroom/internal/auth/domain"
	"github.com/aussiebroadwan/stockroom/internal/auth/metrics"
	"github.com/aussiebroadwan/stockroom/internal/auth/store"
	"github.com/aussiebroadwan/stockroom/pkg/cryptox"
	"github.com/aussiebroadwan/stockroom/pkg/slogx"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// MinMFASecretSize is 160 bits.
	MinMFASecretSize = 20
	mfaPeriod        = 30
	mfaSkew          = 2 // steps either side, +-60s
	qrCodeSize       = 256
)

var totpOpts = totp.ValidateOpts{
	Period:    mfaPeriod,
	Skew:      mfaSkew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// MFAService handles TOTP enrollment, activation, verification and removal.
type MFAService struct {
	Store      store.Store
	Hasher     cryptox.PasswordHasher
	Issuer     string
	SecretSize uint
	Clock      Clock
	Metrics    *metrics.Metrics
}

// Enroll generates and stores a pending secret. MFA stays disabled until
// Activate succeeds. Enrolling again before activation replaces the secret.
func (s *MFAService) Enroll(ctx context.Context, userID string) (domain.MFAEnrollment, error) {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return domain.MFAEnrollment{}, err
	}
	if u.MFAEnabled {
		return domain.MFAEnrollment{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: u.Email,
		Period:      mfaPeriod,
		SecretSize:  max(s.SecretSize, MinMFASecretSize),
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return domain.MFAEnrollment{}, fmt.Errorf("generate totp key: %w", err)
	}

	qr, err := qrDataURL(key)
	if err != nil {
		return domain.MFAEnrollment{}, err
	}

	if err := s.Store.Users().SetMFASecret(ctx, u.ID, key.Secret(), s.Clock.Now()); err != nil {
		return domain.MFAEnrollment{}, fmt.Errorf("store mfa secret: %w", err)
	}

	s.Metrics.MFAEvent("enrolled")
	return domain.MFAEnrollment{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		QRCode:          qr,
		Issuer:          s.Issuer,
		Account:         u.Email,
	}, nil
}

// Activate flips MFA on after the user proves possession of the pending
// secret.
func (s *MFAService) Activate(ctx context.Context, userID, code string) error {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if u.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	if !u.HasPendingMFA() {
		return ErrMFANotEnrolled
	}

	now := s.Clock.Now()
	if !s.Verify(*u.MFASecret, code, now) {
		slogx.FromContext(ctx).Warn("mfa activation code rejected", "user_id", u.ID)
		return ErrMFAInvalid
	}
	if err := s.Store.Users().EnableMFA(ctx, u.ID, now); err != nil {
		return fmt.Errorf("enable mfa: %w", err)
	}

	s.Metrics.MFAEvent("activated")
	slogx.FromContext(ctx).Info("mfa activated", "user_id", u.ID)
	return nil
}

// Verify checks code against secret with a +-2 step window around at.
func (s *MFAService) Verify(secret, code string, at time.Time) bool {
	if secret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at, totpOpts)
	return err == nil && ok
}

// Disable requires both the password and a current code; a session alone
// is never enough.
func (s *MFAService) Disable(ctx context.Context, userID, password, code string) error {
	u, err := s.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if !u.MFAEnabled || u.MFASecret == nil {
		return ErrMFANotEnabled
	}

	if err := s.Hasher.Verify(password, u.PasswordHash); err != nil {
		if errors.Is(err, cryptox.ErrPasswordMismatch) {
			return ErrInvalidCredentials
		}
		return err
	}

	now := s.Clock.Now()
	if !s.Verify(*u.MFASecret, code, now) {
		slogx.FromContext(ctx).Warn("mfa disable code rejected", "user_id", u.ID)
		return ErrMFAInvalid
	}
	if err := s.Store.Users().DisableMFA(ctx, u.ID, now); err != nil {
		return fmt.Errorf("disable mfa: %w", err)
	}

	s.Metrics.MFAEvent("disabled")
	slogx.FromContext(ctx).Info("mfa disabled", "user_id", u.ID)
	return nil
}

func (s *MFAService) loadUser(ctx context.Context, userID string) (domain.User, error) {
	u, err := s.Store.Users().GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, ErrUserNotFound
	}
	return u, err
}

func qrDataURL(key *otp.Key) (string, error) {
	img, err := key.Image(qrCodeSize, qrCodeSize)
	if err != nil {
		return "", fmt.Errorf("render qr code: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode qr code: %w", err)
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
