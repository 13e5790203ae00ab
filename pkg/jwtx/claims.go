package jwtx

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token TTL constants. These provide sensible security defaults but
// can be overridden per-service via configuration.
const (
	// DefaultAccessTokenTTL is the default lifetime for access tokens.
	// Short-lived for security - typical range is 15m to 1h.
	DefaultAccessTokenTTL = 15 * time.Minute

	// DefaultRefreshTokenTTL is the default lifetime for refresh tokens.
	// Longer-lived for user convenience - typical range is 7d to 30d.
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	// DefaultProofTTL is the default lifetime for possession proofs. Proofs
	// cover exactly one request so the window only needs to absorb transit
	// delay and clock skew.
	DefaultProofTTL = 2 * time.Minute
)

// SessionClaims are the claims embedded in bearer session tokens. Access and
// refresh tokens share this shape and differ only in their exp horizon.
type SessionClaims struct {
	jwt.RegisteredClaims
}

// NewSessionClaims builds minimally-correct session claims.
func NewSessionClaims(subject, issuer string, ttl time.Duration, now time.Time) SessionClaims {
	return SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

// ProofClaims are the claims embedded in a possession proof (RFC 9449 style).
// The proof binds a bearer token to one specific HTTP request.
type ProofClaims struct {
	jwt.RegisteredClaims

	// HTM is the HTTP method of the request the proof covers.
	HTM string `json:"htm"`

	// HTU is the full request URL the proof covers.
	HTU string `json:"htu"`

	// ATH is base64url(sha256(access token)): binds the proof to the exact
	// bearer token without re-exposing it.
	ATH string `json:"ath"`

	// Nonce echoes a server-issued nonce, when one was handed out.
	Nonce string `json:"nonce,omitempty"`
}

// ValidateExpiry ensures the token carries an expiry, hasn't passed it (exp),
// and isn't used before it is valid (nbf). Every token this package signs has
// a bounded lifetime, so a claim set with no exp is treated as expired. The
// comparison is strict: a token is invalid from the instant now >= exp, with
// no leeway window.
func ValidateExpiry(c jwt.RegisteredClaims, now time.Time) error {
	if c.ExpiresAt == nil || !now.Before(c.ExpiresAt.Time) {
		return ErrExpired
	}
	if c.NotBefore != nil && now.Before(c.NotBefore.Time) {
		return ErrNotYetValid
	}
	return nil
}
