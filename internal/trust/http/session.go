package http

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/taskboard/trustd/internal/trust/domain"
	"github.com/taskboard/trustd/internal/trust/service"
	"github.com/taskboard/trustd/pkg/httpx"
	"github.com/taskboard/trustd/pkg/slogx"
)

// SessionHandler serves session token issuance and refresh.
type SessionHandler struct {
	Sessions *service.SessionTokenService
}

type issueSessionRequest struct {
	Subject string `json:"subject"`
}

type sessionTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func sessionResponse(pair domain.SessionTokenPair) sessionTokenResponse {
	return sessionTokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    int(pair.ExpiresIn / time.Second),
	}
}

// HandleIssue serves POST /v1/session/tokens.
func (h *SessionHandler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req issueSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}

	subject := strings.TrimSpace(req.Subject)
	if subject == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "missing subject")
		return
	}

	pair, err := h.Sessions.IssuePair(subject)
	if err != nil {
		log.Error("session token issuance failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sessionResponse(pair))
}

type refreshSessionRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// HandleRefresh serves POST /v1/session/refresh. Every refresh failure maps
// to the same 401 body so the response does not leak which check rejected
// the token.
func (h *SessionHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := slogx.FromContext(ctx)

	var req refreshSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "malformed JSON body")
		return
	}
	if req.RefreshToken == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", "missing refresh_token")
		return
	}

	pair, err := h.Sessions.Refresh(req.RefreshToken)
	if err != nil {
		log.Warn("session refresh rejected")
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_grant", "")
		return
	}

	httpx.WriteJSON(w, http.StatusOK, sessionResponse(pair))
}
