package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/taskboard/trustd/pkg/cryptox"
	"github.com/taskboard/trustd/pkg/jwtx"
)

const testSigningSecret = "correct-horse-battery-staple-and-then-some"

func newSessionService(t *testing.T) *SessionTokenService {
	t.Helper()

	keys, err := cryptox.NewSigningKeyProvider(testSigningSecret)
	require.NoError(t, err)

	return &SessionTokenService{
		Keys:       keys,
		Issuer:     "test-issuer",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	t.Parallel()

	svc := newSessionService(t)

	pair, err := svc.IssuePair("user-42")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, time.Minute, pair.ExpiresIn)

	require.True(t, svc.Validate(pair.AccessToken, "user-42"))
	require.True(t, svc.Validate(pair.RefreshToken, "user-42"))

	subject, err := svc.Subject(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-42", subject)
}

func TestSessionTokenValidateRejections(t *testing.T) {
	t.Parallel()

	svc := newSessionService(t)

	token, err := svc.IssueAccessToken("user-42")
	require.NoError(t, err)

	t.Run("wrong subject", func(t *testing.T) {
		require.False(t, svc.Validate(token, "user-43"))
	})

	t.Run("garbage token", func(t *testing.T) {
		require.False(t, svc.Validate("not.a.token", "user-42"))
		require.False(t, svc.Validate("", "user-42"))
	})

	t.Run("tampered payload", func(t *testing.T) {
		tampered := token[:len(token)-4] + "AAAA"
		require.False(t, svc.Validate(tampered, "user-42"))
	})

	t.Run("token signed with different secret", func(t *testing.T) {
		otherKeys, err := cryptox.NewSigningKeyProvider("a-completely-different-secret-material!!")
		require.NoError(t, err)

		other := &SessionTokenService{
			Keys:      otherKeys,
			Issuer:    "test-issuer",
			AccessTTL: time.Minute,
		}
		foreign, err := other.IssueAccessToken("user-42")
		require.NoError(t, err)

		require.False(t, svc.Validate(foreign, "user-42"))
	})
}

func TestSessionTokenStrictExpiry(t *testing.T) {
	t.Parallel()

	svc := newSessionService(t)
	svc.AccessTTL = 0 // exp == iat, so the token is dead the instant it exists

	token, err := svc.IssueAccessToken("user-42")
	require.NoError(t, err)

	require.False(t, svc.Validate(token, "user-42"))

	// The subject is still recoverable: signature checking and liveness are
	// separate concerns.
	subject, err := svc.Subject(token)
	require.NoError(t, err)
	require.Equal(t, "user-42", subject)
}

func TestSessionTokenWithoutExpiryIsRejected(t *testing.T) {
	t.Parallel()

	svc := newSessionService(t)

	// A correctly signed token missing its exp claim must not validate:
	// accepting it would mean a session that never ends.
	claims := jwtx.SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "test-issuer",
			Subject:  "user-42",
			IssuedAt: jwt.NewNumericDate(time.Now().Add(-24 * time.Hour)),
		},
	}
	token, err := jwtx.SignHS256(claims, svc.Keys.Key())
	require.NoError(t, err)

	require.False(t, svc.Validate(token, "user-42"))

	_, err = svc.Refresh(token)
	require.ErrorIs(t, err, ErrInvalidRefresh)
}

func TestSessionRefreshHorizons(t *testing.T) {
	t.Parallel()

	svc := newSessionService(t)

	access, err := svc.IssueAccessToken("user-42")
	require.NoError(t, err)
	refresh, err := svc.IssueRefreshToken("user-42")
	require.NoError(t, err)

	accessExp, err := svc.ExpiresAt(access)
	require.NoError(t, err)
	refreshExp, err := svc.ExpiresAt(refresh)
	require.NoError(t, err)
	require.True(t, refreshExp.After(accessExp), "refresh horizon must outlive access horizon")
}

func TestSessionRefresh(t *testing.T) {
	t.Parallel()

	svc := newSessionService(t)

	t.Run("valid refresh issues a new pair for the same subject", func(t *testing.T) {
		refresh, err := svc.IssueRefreshToken("user-42")
		require.NoError(t, err)

		pair, err := svc.Refresh(refresh)
		require.NoError(t, err)
		require.True(t, svc.Validate(pair.AccessToken, "user-42"))
		require.True(t, svc.Validate(pair.RefreshToken, "user-42"))
	})

	t.Run("garbage collapses to ErrInvalidRefresh", func(t *testing.T) {
		_, err := svc.Refresh("garbage")
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})

	t.Run("expired refresh collapses to ErrInvalidRefresh", func(t *testing.T) {
		expired := &SessionTokenService{
			Keys:       svc.Keys,
			Issuer:     svc.Issuer,
			AccessTTL:  time.Minute,
			RefreshTTL: 0,
		}
		refresh, err := expired.IssueRefreshToken("user-42")
		require.NoError(t, err)

		_, err = svc.Refresh(refresh)
		require.ErrorIs(t, err, ErrInvalidRefresh)
	})
}

func TestIssueRejectsEmptySubject(t *testing.T) {
	t.Parallel()

	svc := newSessionService(t)

	_, err := svc.IssueAccessToken("")
	require.ErrorIs(t, err, ErrInvalidSession)
}

func TestSessionClaimsCarryIssuer(t *testing.T) {
	t.Parallel()

	svc := newSessionService(t)

	token, err := svc.IssueAccessToken("user-42")
	require.NoError(t, err)

	claims, err := jwtx.ParseSessionHS256(token, svc.Keys.Key())
	require.NoError(t, err)
	require.Equal(t, "test-issuer", claims.Issuer)
	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
}
