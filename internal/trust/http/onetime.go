package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/taskboard/trustd/internal/trust/domain"
	"github.com/taskboard/trustd/internal/trust/service"
	"github.com/taskboard/trustd/internal/trust/store"
	"github.com/taskboard/trustd/pkg/httpx"
	"github.com/taskboard/trustd/pkg/slogx"
)

// OneTimeTokenHandler serves the single-use token endpoints.
type OneTimeTokenHandler struct {
	Tokens *service.SingleUseTokenService
}

type createTokenRequest struct {
	UserID     string `json:"user_id"`
	Purpose    string `json:"purpose"`
	TTLMinutes int    `json:"ttl_minutes"`
	Metadata   string `json:"metadata,omitempty"`
}

type createTokenResponse struct {
	Token     string    `json:"token"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

// HandleCreate serves POST /v1/one-time-tokens.
func (h *OneTimeTokenHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req createTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	purpose, err := domain.ParsePurpose(strings.TrimSpace(req.Purpose))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown purpose")
		return
	}

	token, err := h.Tokens.Create(
		ctx,
		strings.TrimSpace(req.UserID),
		purpose,
		time.Duration(req.TTLMinutes)*time.Minute,
		req.Metadata,
	)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "")
		case errors.Is(err, service.ErrQuotaExceeded):
			httpx.WriteError(w, http.StatusTooManyRequests, "token_quota_exceeded", "too many active tokens for this purpose")
		default:
			log.Error("one-time token creation failed", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		}
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, createTokenResponse{
		Token:     token.Value,
		Purpose:   string(token.Purpose),
		ExpiresAt: token.ExpiresAt,
	})
}

type validateTokenRequest struct {
	Token   string `json:"token"`
	Purpose string `json:"purpose"`
}

type validateTokenResponse struct {
	Valid bool `json:"valid"`
}

// HandleValidate serves POST /v1/one-time-tokens/validate. Redemption is
// consuming: a valid=true response retires the token.
func (h *OneTimeTokenHandler) HandleValidate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req validateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	purpose, err := domain.ParsePurpose(strings.TrimSpace(req.Purpose))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown purpose")
		return
	}

	valid, err := h.Tokens.ValidateAndUse(ctx, strings.TrimSpace(req.Token), purpose)
	if err != nil {
		log.Error("one-time token validation failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, validateTokenResponse{Valid: valid})
}

type tokenInfoResponse struct {
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
	IsUsed    bool      `json:"is_used"`
	IsExpired bool      `json:"is_expired"`
	CanBeUsed bool      `json:"can_be_used"`
}

// HandleInfo serves GET /v1/one-time-tokens/{token}. Non-consuming.
func (h *OneTimeTokenHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	value := r.PathValue("token")
	if value == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "missing token")
		return
	}

	token, err := h.Tokens.Info(ctx, value)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			httpx.WriteError(w, http.StatusNotFound, "token_not_found", "")
			return
		}
		log.Error("one-time token lookup failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	now := time.Now()
	httpx.WriteJSON(w, http.StatusOK, tokenInfoResponse{
		Purpose:   string(token.Purpose),
		ExpiresAt: token.ExpiresAt,
		IsUsed:    token.IsUsed,
		IsExpired: token.IsExpired(now),
		CanBeUsed: token.CanBeUsed(now),
	})
}

type activeTokenEntry struct {
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Metadata  string    `json:"metadata,omitempty"`
}

type listTokensResponse struct {
	UserID string             `json:"user_id"`
	Tokens []activeTokenEntry `json:"tokens"`
}

// HandleListActive serves GET /v1/users/{id}/one-time-tokens. Token values
// are never echoed back; the listing exposes purpose and lifetime only.
func (h *OneTimeTokenHandler) HandleListActive(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := r.PathValue("id")
	if userID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "missing user id")
		return
	}

	var (
		tokens []domain.OneTimeToken
		err    error
	)
	if p := strings.TrimSpace(r.URL.Query().Get("purpose")); p != "" {
		purpose, perr := domain.ParsePurpose(p)
		if perr != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown purpose")
			return
		}
		tokens, err = h.Tokens.ListActiveForPurpose(ctx, userID, purpose)
	} else {
		tokens, err = h.Tokens.ListActive(ctx, userID)
	}
	if err != nil {
		log.Error("one-time token listing failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	entries := make([]activeTokenEntry, 0, len(tokens))
	for _, t := range tokens {
		entries = append(entries, activeTokenEntry{
			Purpose:   string(t.Purpose),
			ExpiresAt: t.ExpiresAt,
			CreatedAt: t.CreatedAt,
			Metadata:  t.Metadata,
		})
	}

	httpx.WriteJSON(w, http.StatusOK, listTokensResponse{UserID: userID, Tokens: entries})
}

// HandleRevoke serves DELETE /v1/users/{id}/one-time-tokens, optionally
// narrowed with ?purpose=.
func (h *OneTimeTokenHandler) HandleRevoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	userID := r.PathValue("id")
	if userID == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "missing user id")
		return
	}

	var err error
	if p := strings.TrimSpace(r.URL.Query().Get("purpose")); p != "" {
		purpose, perr := domain.ParsePurpose(p)
		if perr != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "unknown purpose")
			return
		}
		err = h.Tokens.RevokeForUserAndPurpose(ctx, userID, purpose)
	} else {
		err = h.Tokens.RevokeAllForUser(ctx, userID)
	}
	if err != nil {
		log.Error("one-time token revocation failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleCleanup serves POST /v1/admin/one-time-tokens/cleanup: an on-demand
// run of the expired-token deletion that housekeeping performs on a timer.
func (h *OneTimeTokenHandler) HandleCleanup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	if err := h.Tokens.CleanupExpired(ctx); err != nil {
		log.Error("one-time token cleanup failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
