package service

import (
	"errors"
	"time"

	"github.com/taskboard/trustd/internal/trust/domain"
	"github.com/taskboard/trustd/pkg/cryptox"
	"github.com/taskboard/trustd/pkg/jwtx"
)

var (
	ErrInvalidSession = errors.New("invalid_session_token")
	ErrInvalidRefresh = errors.New("invalid_refresh_token")
)

// SessionTokenService issues and validates bearer session tokens: signed,
// expiring claims tokens over a subject identity. Access and refresh tokens
// share the same shape and differ only in lifetime. The service is stateless
// given the signing key; nothing here touches storage.
type SessionTokenService struct {
	Keys       *cryptox.SigningKeyProvider
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// IssueAccessToken produces a signed short-horizon token for the subject.
func (s *SessionTokenService) IssueAccessToken(subject string) (string, error) {
	return s.issue(subject, s.AccessTTL)
}

// IssueRefreshToken produces a signed long-horizon token for the subject.
// The refresh horizon is strictly longer than the access horizon.
func (s *SessionTokenService) IssueRefreshToken(subject string) (string, error) {
	return s.issue(subject, s.RefreshTTL)
}

// IssuePair issues an access/refresh token pair for the subject.
func (s *SessionTokenService) IssuePair(subject string) (domain.SessionTokenPair, error) {
	access, err := s.IssueAccessToken(subject)
	if err != nil {
		return domain.SessionTokenPair{}, err
	}
	refresh, err := s.IssueRefreshToken(subject)
	if err != nil {
		return domain.SessionTokenPair{}, err
	}
	return domain.SessionTokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    s.AccessTTL,
	}, nil
}

// Refresh validates a refresh token and, if it is live, issues a fresh pair
// for the same subject. Any parse/signature/expiry failure collapses to
// ErrInvalidRefresh: the caller learns nothing about which check failed.
func (s *SessionTokenService) Refresh(refreshToken string) (domain.SessionTokenPair, error) {
	claims, err := jwtx.ParseSessionHS256(refreshToken, s.Keys.Key())
	if err != nil {
		return domain.SessionTokenPair{}, ErrInvalidRefresh
	}
	if err := jwtx.ValidateExpiry(claims.RegisteredClaims, time.Now()); err != nil {
		return domain.SessionTokenPair{}, ErrInvalidRefresh
	}
	if claims.Subject == "" {
		return domain.SessionTokenPair{}, ErrInvalidRefresh
	}
	return s.IssuePair(claims.Subject)
}

// Subject parses the token, verifies its signature, and returns the encoded
// subject. It does not check expiry; pair it with Validate when liveness
// matters.
func (s *SessionTokenService) Subject(token string) (string, error) {
	claims, err := jwtx.ParseSessionHS256(token, s.Keys.Key())
	if err != nil {
		return "", err
	}
	return claims.Subject, nil
}

// ExpiresAt returns the token's expiry instant, or an error if the token
// does not parse or carries no exp claim.
func (s *SessionTokenService) ExpiresAt(token string) (time.Time, error) {
	claims, err := jwtx.ParseSessionHS256(token, s.Keys.Key())
	if err != nil {
		return time.Time{}, err
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, jwtx.ErrMalformed
	}
	return claims.ExpiresAt.Time, nil
}

// Validate reports whether the token verifies, names the expected subject,
// and is still live. Expiry is strict with zero leeway: the instant
// now >= exp the token is dead. Every failure mode — bad signature, garbage
// input, wrong subject, expired — yields false rather than an error, so
// callers treat false as "proceed unauthenticated", never as a fault.
func (s *SessionTokenService) Validate(token, expectedSubject string) bool {
	claims, err := jwtx.ParseSessionHS256(token, s.Keys.Key())
	if err != nil {
		return false
	}
	if claims.Subject != expectedSubject {
		return false
	}
	if err := jwtx.ValidateExpiry(claims.RegisteredClaims, time.Now()); err != nil {
		return false
	}
	return true
}

func (s *SessionTokenService) issue(subject string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", ErrInvalidSession
	}
	claims := jwtx.NewSessionClaims(subject, s.Issuer, ttl, time.Now())
	return jwtx.SignHS256(claims, s.Keys.Key())
}
