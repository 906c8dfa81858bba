package jwtx

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenUse distinguishes the two credentials the service mints. A pending
// token proves password success only; an access token grants full API access.
type TokenUse string

const (
	TokenUsePending TokenUse = "pending"
	TokenUseAccess  TokenUse = "access"
)

// Claims are the claims embedded in trust-service tokens. The token_use claim
// is checked on every decode so a pending token can never stand in for an
// access token, or the other way around.
type Claims struct {
	jwt.RegisteredClaims

	// Use marks what the token is good for ("pending" or "access").
	Use TokenUse `json:"token_use"`

	// Identity is the login identity (email) of the subject.
	Identity string `json:"identity,omitempty"`

	// Role is the subject's account role. Only set on access tokens and on
	// pending tokens about to be upgraded.
	Role string `json:"role,omitempty"`
}

// NewClaims builds minimally-correct claims for the given token use.
func NewClaims(
	subject, identity, role string,
	use TokenUse,
	ttl time.Duration,
	issuer string,
	now time.Time,
) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
		Use:      use,
		Identity: identity,
		Role:     role,
	}
}

// NewJTI returns a URL-safe random identifier for the "jti" claim.
func NewJTI() string {
	var b [20]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// ValidateIssuer checks if the issuer matches the expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateExpiry ensures the token hasn't expired (exp) and isn't used before
// it is valid (nbf).
func (c *Claims) ValidateExpiry(now time.Time) error {
	if c.ExpiresAt != nil && now.After(c.ExpiresAt.Time) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}

	return nil
}

// ValidateUse checks the token_use claim against the expected kind.
func (c *Claims) ValidateUse(expected TokenUse) error {
	if c.Use != expected {
		return ErrWrongUse
	}
	return nil
}
