package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"github.com/taskboard/trustd/internal/trust/replay"
	"github.com/taskboard/trustd/pkg/cryptox"
	"github.com/taskboard/trustd/pkg/idx"
	"github.com/taskboard/trustd/pkg/jwtx"
)

func newProofService(t *testing.T) *PossessionProofService {
	t.Helper()

	keys, err := cryptox.NewSigningKeyProvider(testSigningSecret)
	require.NoError(t, err)

	return &PossessionProofService{
		Keys:     keys,
		ProofTTL: 2 * time.Minute,
	}
}

func TestProofRoundTrip(t *testing.T) {
	t.Parallel()

	svc := newProofService(t)
	ctx := context.Background()

	proof, err := svc.Create("access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)

	ok, err := svc.Validate(ctx, proof, "access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestProofBindingExactness(t *testing.T) {
	t.Parallel()

	svc := newProofService(t)
	ctx := context.Background()

	proof, err := svc.Create("access-token", "GET", "https://api.example/v1/resource", "nonce-1")
	require.NoError(t, err)

	cases := []struct {
		name   string
		token  string
		method string
		url    string
		nonce  string
	}{
		{"different method", "access-token", "POST", "https://api.example/v1/resource", "nonce-1"},
		{"different url", "access-token", "GET", "https://api.example/v1/other", "nonce-1"},
		{"url differs by query", "access-token", "GET", "https://api.example/v1/resource?x=1", "nonce-1"},
		{"different bearer token", "other-token", "GET", "https://api.example/v1/resource", "nonce-1"},
		{"different nonce", "access-token", "GET", "https://api.example/v1/resource", "nonce-2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := svc.Validate(ctx, proof, tc.token, tc.method, tc.url, tc.nonce)
			require.NoError(t, err)
			require.False(t, ok)
		})
	}

	t.Run("exact match still validates", func(t *testing.T) {
		ok, err := svc.Validate(ctx, proof, "access-token", "GET", "https://api.example/v1/resource", "nonce-1")
		require.NoError(t, err)
		require.True(t, ok)
	})
}

func TestProofStolenTokenScenario(t *testing.T) {
	t.Parallel()

	svc := newProofService(t)
	ctx := context.Background()

	// The attacker holds a stolen bearer token plus a captured proof minted
	// for a different token. The proof's ath does not match the stolen
	// token, so the pair is useless.
	proof, err := svc.Create("victim-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)

	ok, err := svc.Validate(ctx, proof, "stolen-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProofRejectsTamperedAndForeign(t *testing.T) {
	t.Parallel()

	svc := newProofService(t)
	ctx := context.Background()

	proof, err := svc.Create("access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)

	t.Run("tampered signature", func(t *testing.T) {
		ok, err := svc.Validate(ctx, proof[:len(proof)-4]+"AAAA", "access-token", "GET", "https://api.example/v1/resource", "")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("garbage proof", func(t *testing.T) {
		ok, err := svc.Validate(ctx, "not-a-proof", "access-token", "GET", "https://api.example/v1/resource", "")
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("proof signed with different secret", func(t *testing.T) {
		otherKeys, err := cryptox.NewSigningKeyProvider("a-completely-different-secret-material!!")
		require.NoError(t, err)
		other := &PossessionProofService{Keys: otherKeys, ProofTTL: 2 * time.Minute}

		foreign, err := other.Create("access-token", "GET", "https://api.example/v1/resource", "")
		require.NoError(t, err)

		ok, err := svc.Validate(ctx, foreign, "access-token", "GET", "https://api.example/v1/resource", "")
		require.NoError(t, err)
		require.False(t, ok)
	})
}

func TestProofStrictExpiry(t *testing.T) {
	t.Parallel()

	svc := newProofService(t)
	svc.ProofTTL = 0 // exp == iat: dead on arrival
	ctx := context.Background()

	proof, err := svc.Create("access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)

	ok, err := svc.Validate(ctx, proof, "access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProofRejectsMissingExpiry(t *testing.T) {
	t.Parallel()

	svc := newProofService(t)
	ctx := context.Background()

	// A proof signed without an exp claim would otherwise never age out.
	claims := jwtx.ProofClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:       idx.New().String(),
			IssuedAt: jwt.NewNumericDate(time.Now().Add(-24 * time.Hour)),
		},
		HTM: "GET",
		HTU: "https://api.example/v1/resource",
		ATH: cryptox.FingerprintToken("access-token"),
	}
	proof, err := jwtx.SignHS256(claims, svc.Keys.Key())
	require.NoError(t, err)

	ok, err := svc.Validate(ctx, proof, "access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestProofReplayTracking(t *testing.T) {
	t.Parallel()

	svc := newProofService(t)
	svc.Replay = replay.NewMemoryCache()
	ctx := context.Background()

	proof, err := svc.Create("access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)

	ok, err := svc.Validate(ctx, proof, "access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)
	require.True(t, ok)

	// Second presentation of the identical proof is a replay.
	ok, err = svc.Validate(ctx, proof, "access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)
	require.False(t, ok)

	// A fresh proof for the same request is fine: each carries its own jti.
	fresh, err := svc.Create("access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)
	ok, err = svc.Validate(ctx, fresh, "access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)
	require.True(t, ok)
}

type failingReplayCache struct{}

func (failingReplayCache) MarkSeen(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("backend down")
}

func TestProofReplayBackendFaultFailsClosed(t *testing.T) {
	t.Parallel()

	svc := newProofService(t)
	svc.Replay = failingReplayCache{}
	ctx := context.Background()

	proof, err := svc.Create("access-token", "GET", "https://api.example/v1/resource", "")
	require.NoError(t, err)

	ok, err := svc.Validate(ctx, proof, "access-token", "GET", "https://api.example/v1/resource", "")
	require.Error(t, err)
	require.False(t, ok)
}
