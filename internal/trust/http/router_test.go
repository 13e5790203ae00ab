package http

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/taskboard/trustd/internal/trust/service"
	"github.com/taskboard/trustd/internal/trust/store/drivers/sqlite"
	"github.com/taskboard/trustd/pkg/cryptox"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	st, err := sqlite.NewStore("file:" + filepath.Join(t.TempDir(), "trustd.db") + "?_pragma=busy_timeout(5000)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.ApplyMigrations())

	keys, err := cryptox.NewSigningKeyProvider("correct-horse-battery-staple-and-then-some")
	require.NoError(t, err)

	r := NewRouter("test", st, nil, slog.New(slog.DiscardHandler))
	r.SessionService = &service.SessionTokenService{
		Keys:       keys,
		Issuer:     "test-issuer",
		AccessTTL:  time.Minute,
		RefreshTTL: time.Hour,
	}
	r.ProofService = &service.PossessionProofService{
		Keys:     keys,
		ProofTTL: 2 * time.Minute,
	}
	r.TokenService = &service.SingleUseTokenService{
		Store:            st,
		TokenLength:      32,
		DefaultTTL:       15 * time.Minute,
		MaxTTL:           24 * time.Hour,
		MaxActivePerUser: 5,
	}
	r.ApplyRoutes()
	return r
}

func doJSON(t *testing.T, r *Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestOneTimeTokenLifecycleOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	// Mint a login token.
	rec := doJSON(t, r, http.MethodPost, "/v1/one-time-tokens", map[string]any{
		"user_id":     "user-1",
		"purpose":     "LOGIN",
		"ttl_minutes": 10,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Token     string    `json:"token"`
		Purpose   string    `json:"purpose"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Token)
	require.Equal(t, "LOGIN", created.Purpose)

	// Inspect it without consuming.
	rec = doJSON(t, r, http.MethodGet, "/v1/one-time-tokens/"+created.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var info struct {
		Purpose   string `json:"purpose"`
		IsUsed    bool   `json:"is_used"`
		CanBeUsed bool   `json:"can_be_used"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.True(t, info.CanBeUsed)
	require.False(t, info.IsUsed)

	// Redeem it.
	rec = doJSON(t, r, http.MethodPost, "/v1/one-time-tokens/validate", map[string]string{
		"token":   created.Token,
		"purpose": "LOGIN",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"valid":true}`, rec.Body.String())

	// Redeeming again fails without revealing why.
	rec = doJSON(t, r, http.MethodPost, "/v1/one-time-tokens/validate", map[string]string{
		"token":   created.Token,
		"purpose": "LOGIN",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"valid":false}`, rec.Body.String())
}

func TestOneTimeTokenCreateRejections(t *testing.T) {
	r := newTestRouter(t)

	t.Run("unknown purpose", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/one-time-tokens", map[string]any{
			"user_id": "user-1",
			"purpose": "NOT_A_PURPOSE",
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/one-time-tokens", bytes.NewReader([]byte("{")))
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestOneTimeTokenQuotaOverHTTP(t *testing.T) {
	r := newTestRouter(t)
	r.TokenService.MaxActivePerUser = 1

	body := map[string]any{"user_id": "user-1", "purpose": "PASSWORD_RESET"}

	rec := doJSON(t, r, http.MethodPost, "/v1/one-time-tokens", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, r, http.MethodPost, "/v1/one-time-tokens", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "token_quota_exceeded")
}

func TestOneTimeTokenInfoNotFound(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/v1/one-time-tokens/no-such-token", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUserTokenListingAndRevocation(t *testing.T) {
	r := newTestRouter(t)

	for _, purpose := range []string{"LOGIN", "EMAIL_VERIFICATION"} {
		rec := doJSON(t, r, http.MethodPost, "/v1/one-time-tokens", map[string]any{
			"user_id": "user-1",
			"purpose": purpose,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := doJSON(t, r, http.MethodGet, "/v1/users/user-1/one-time-tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Tokens []struct {
			Purpose string `json:"purpose"`
		} `json:"tokens"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Tokens, 2)

	// Values are never echoed in listings.
	require.NotContains(t, rec.Body.String(), `"token"`)
	require.NotContains(t, rec.Body.String(), `"value"`)

	// Revoke just the login tokens.
	rec = doJSON(t, r, http.MethodDelete, "/v1/users/user-1/one-time-tokens?purpose=LOGIN", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, r, http.MethodGet, "/v1/users/user-1/one-time-tokens", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Len(t, listing.Tokens, 1)
	require.Equal(t, "EMAIL_VERIFICATION", listing.Tokens[0].Purpose)
}

func TestSessionEndpoints(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/session/tokens", map[string]string{"subject": "user-42"})
	require.Equal(t, http.StatusOK, rec.Code)

	var pair struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pair))
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	require.Equal(t, "Bearer", pair.TokenType)
	require.Equal(t, 60, pair.ExpiresIn)

	t.Run("refresh issues a new pair", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/session/refresh", map[string]string{
			"refresh_token": pair.RefreshToken,
		})
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("refresh rejects garbage", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/session/refresh", map[string]string{
			"refresh_token": "garbage",
		})
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Body.String(), "invalid_grant")
	})

	t.Run("issue rejects empty subject", func(t *testing.T) {
		rec := doJSON(t, r, http.MethodPost, "/v1/session/tokens", map[string]string{"subject": ""})
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestAdminCleanupEndpoint(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodPost, "/v1/admin/one-time-tokens/cleanup", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	r := newTestRouter(t)

	rec := doJSON(t, r, http.MethodGet, "/livez", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)

	rec = doJSON(t, r, http.MethodGet, "/readyz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}
