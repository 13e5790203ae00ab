package http

import (
	"net/http"
	"strings"

	"github.com/taskboard/trustd/internal/trust/service"
	"github.com/taskboard/trustd/pkg/httpx"
	"github.com/taskboard/trustd/pkg/slogx"
)

const (
	proofHeader = "DPoP"
	nonceHeader = "DPoP-Nonce"
)

// PossessionProofGate enforces proof-of-possession on protected routes. A
// request carrying both a bearer token and a DPoP proof must present a proof
// that binds that exact token to this exact request; a request carrying only
// a bearer token passes untouched, and allowlisted paths are never checked.
//
// The gate distinguishes an invalid proof (401, the caller's fault) from an
// internal validation fault (500, ours) and never serves the protected
// handler in either case.
type PossessionProofGate struct {
	Proofs *service.PossessionProofService

	// PublicPrefixes lists path prefixes exempt from proof enforcement:
	// health probes, session issuance, and the one-time token redemption
	// endpoints that callers hit before they hold a session.
	PublicPrefixes []string

	// TrustProxyHeaders lets X-Forwarded-Proto and X-Forwarded-Host override
	// the connection's scheme and host when reconstructing the proof URL.
	// The headers are client-controlled, so leave this unset unless a
	// trusted proxy terminates TLS in front of the service.
	TrustProxyHeaders bool
}

func (g *PossessionProofGate) Middleware() httpx.Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			proof := r.Header.Get(proofHeader)
			token := bearerToken(r)

			// Proof binding only applies when both artifacts are present.
			// A bearer-only request is legitimate; a proof with no token
			// has nothing to bind to.
			if proof == "" || token == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := g.Proofs.Validate(
				r.Context(),
				proof,
				token,
				r.Method,
				g.requestURL(r),
				r.Header.Get(nonceHeader),
			)
			if err != nil {
				log := slogx.FromContext(r.Context())
				log.Error("possession proof validation fault", "error", err)
				httpx.WriteError(w, http.StatusInternalServerError, "dpop_processing_error", "")
				return
			}
			if !ok {
				httpx.WriteError(w, http.StatusUnauthorized, "invalid_dpop_proof", "")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (g *PossessionProofGate) isPublic(path string) bool {
	for _, prefix := range g.PublicPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const scheme = "Bearer "
	if len(auth) <= len(scheme) || !strings.EqualFold(auth[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(auth[len(scheme):])
}

// requestURL reconstructs the absolute URL the client signed into the proof.
// Forwarding headers count only when the deployment declares a trusted
// proxy; otherwise the direct connection's scheme and host win.
func (g *PossessionProofGate) requestURL(r *http.Request) string {
	var scheme, host string
	if g.TrustProxyHeaders {
		scheme = r.Header.Get("X-Forwarded-Proto")
		host = r.Header.Get("X-Forwarded-Host")
	}

	if scheme == "" {
		if r.TLS != nil {
			scheme = "https"
		} else {
			scheme = "http"
		}
	}
	if host == "" {
		host = r.Host
	}

	return scheme + "://" + host + r.URL.RequestURI()
}
