package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/taskboard/trustd/internal/trust/replay"
	"github.com/taskboard/trustd/pkg/cryptox"
	"github.com/taskboard/trustd/pkg/idx"
	"github.com/taskboard/trustd/pkg/jwtx"
	"github.com/taskboard/trustd/pkg/slogx"
)

// PossessionProofService creates and validates DPoP-style possession proofs:
// short-lived signed artifacts binding a bearer token to exactly one HTTP
// request (method + URL + access-token hash). A stolen bearer token is
// useless to an attacker who cannot also mint a matching proof.
//
// The service is stateless given the signing key, except for the optional
// replay seen-set.
type PossessionProofService struct {
	Keys     *cryptox.SigningKeyProvider
	ProofTTL time.Duration

	// Replay, when non-nil, rejects a proof whose jti has already been
	// presented within the proof horizon. Nil disables replay tracking,
	// matching deployments that accept the full-window replay exposure.
	Replay replay.Cache
}

// Create assembles and signs a proof for the given access token and request
// coordinates. nonce may be empty when the server did not issue one.
func (s *PossessionProofService) Create(accessToken, httpMethod, httpURL, nonce string) (string, error) {
	now := time.Now()

	claims := jwtx.ProofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        idx.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ProofTTL)),
		},
		HTM:   httpMethod,
		HTU:   httpURL,
		ATH:   cryptox.FingerprintToken(accessToken),
		Nonce: nonce,
	}

	signed, err := jwtx.SignHS256(claims, s.Keys.Key())
	if err != nil {
		return "", fmt.Errorf("signing possession proof: %w", err)
	}
	return signed, nil
}

// Validate checks a proof against the live request, in order:
//
//  1. signature/parse
//  2. exact method and URL equality
//  3. nonce equality, when a nonce was issued
//  4. access-token hash recomputed from the presented bearer token
//  5. expiry (strict, no leeway)
//  6. replay, when a seen-set is configured
//
// Any single failing check invalidates the whole proof; the boolean result
// never says which. Internal logs record the failing check for operators.
// The error return is reserved for internal faults (replay backend
// unreachable) — callers must fail closed on it.
func (s *PossessionProofService) Validate(
	ctx context.Context,
	proof, accessToken, httpMethod, httpURL, nonce string,
) (bool, error) {
	log := slogx.FromContext(ctx)

	claims, err := jwtx.ParseProofHS256(proof, s.Keys.Key())
	if err != nil {
		log.Warn("possession proof rejected: parse/signature", slog.Any("error", err))
		return false, nil
	}

	if claims.HTM != httpMethod {
		log.Warn("possession proof rejected: method mismatch",
			slog.String("expected", httpMethod),
			slog.String("got", claims.HTM),
		)
		return false, nil
	}
	if claims.HTU != httpURL {
		log.Warn("possession proof rejected: url mismatch",
			slog.String("expected", httpURL),
			slog.String("got", claims.HTU),
		)
		return false, nil
	}

	if nonce != "" && subtle.ConstantTimeCompare([]byte(claims.Nonce), []byte(nonce)) != 1 {
		log.Warn("possession proof rejected: nonce mismatch")
		return false, nil
	}

	expectedATH := cryptox.FingerprintToken(accessToken)
	if subtle.ConstantTimeCompare([]byte(claims.ATH), []byte(expectedATH)) != 1 {
		log.Warn("possession proof rejected: access token hash mismatch")
		return false, nil
	}

	if err := jwtx.ValidateExpiry(claims.RegisteredClaims, time.Now()); err != nil {
		log.Warn("possession proof rejected: expired")
		return false, nil
	}

	if s.Replay != nil {
		if claims.ID == "" {
			log.Warn("possession proof rejected: missing jti with replay tracking enabled")
			return false, nil
		}
		first, err := s.Replay.MarkSeen(ctx, claims.ID, s.ProofTTL)
		if err != nil {
			// Seen-set unavailable: surface as a fault so the gate fails
			// closed instead of silently skipping replay protection.
			return false, fmt.Errorf("proof replay check: %w", err)
		}
		if !first {
			log.Warn("possession proof rejected: replayed jti", slog.String("jti", claims.ID))
			return false, nil
		}
	}

	log.Debug("possession proof validated",
		slog.String("method", httpMethod),
		slog.String("url", httpURL),
	)
	return true, nil
}
