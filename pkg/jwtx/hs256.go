package jwtx

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// HS256 signing and verification over a shared secret. Unlike asymmetric
// setups there is no kid/JWKS machinery: one derived key signs and verifies
// everything, so the helpers here are plain functions over that key.

// SignHS256 signs the given claims with HMAC-SHA256 and returns the compact
// serialization.
func SignHS256(claims jwt.Claims, key []byte) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("jwtx: signing failed: %w", err)
	}
	return signed, nil
}

// ParseSessionHS256 parses and signature-checks a session token. Expiry is
// deliberately NOT validated here; callers run ValidateExpiry as an explicit
// separate step so that "who is this" and "is this still live" stay
// distinct checks.
func ParseSessionHS256(token string, key []byte) (SessionClaims, error) {
	var claims SessionClaims
	if err := parseInto(token, key, &claims); err != nil {
		return SessionClaims{}, err
	}
	return claims, nil
}

// ParseProofHS256 parses and signature-checks a possession proof. As with
// session tokens, expiry stays a separate explicit check so the proof
// validation order is fully caller-controlled.
func ParseProofHS256(token string, key []byte) (ProofClaims, error) {
	var claims ProofClaims
	if err := parseInto(token, key, &claims); err != nil {
		return ProofClaims{}, err
	}
	return claims, nil
}

func parseInto(token string, key []byte, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrAlgMismatch
		}
		return key, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		switch {
		case errors.Is(err, ErrAlgMismatch):
			return ErrAlgMismatch
		case errors.Is(err, jwt.ErrSignatureInvalid):
			return ErrInvalidSig
		default:
			return fmt.Errorf("%w: %w", ErrMalformed, err)
		}
	}
	return nil
}
