package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")
	ErrIssuer      = errors.New("jwtx: issuer mismatch")
	ErrExpired     = errors.New("jwtx: token expired")
	ErrNotYetValid = errors.New("jwtx: token not yet valid")
	ErrTokenUse    = errors.New("jwtx: wrong token use")
)

// Verifier checks signature, issuer and time claims of tokens signed by any
// key in its KeySet.
type Verifier struct {
	keys    *KeySet
	issuer  string
	leeway  time.Duration
	methods []string
}

func NewVerifier(keys *KeySet, issuer string, leeway time.Duration) *Verifier {
	return &Verifier{
		keys:    keys,
		issuer:  issuer,
		leeway:  leeway,
		methods: []string{AlgorithmEdDSA, AlgorithmES256},
	}
}

// Verify validates token against the wall clock.
func (v *Verifier) Verify(token string) (*Claims, error) {
	return v.VerifyAt(token, time.Now())
}

// VerifyAt validates token as if the current time were at.
func (v *Verifier) VerifyAt(token string, at time.Time) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods(v.methods),
		jwt.WithTimeFunc(func() time.Time { return at }),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, v.keyFunc)
	if err != nil {
		return nil, classify(err)
	}
	return claims, nil
}

// VerifyUse is VerifyAt plus a check of the token_use claim.
func (v *Verifier) VerifyUse(token, use string, at time.Time) (*Claims, error) {
	c, err := v.VerifyAt(token, at)
	if err != nil {
		return nil, err
	}
	if c.TokenUse != use {
		return nil, ErrTokenUse
	}
	return c, nil
}

func (v *Verifier) keyFunc(t *jwt.Token) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: missing kid", ErrUnknownKID)
	}
	pub, err := v.keys.Get(kid)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
	}
	return pub, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID):
		return ErrUnknownKID
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return ErrNotYetValid
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return ErrIssuer
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrInvalidSig
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}
