package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/taskboard/trustd/internal/trust/replay"
	"github.com/taskboard/trustd/internal/trust/service"
	"github.com/taskboard/trustd/internal/trust/store"
	"github.com/taskboard/trustd/pkg/httpx"
	"github.com/taskboard/trustd/pkg/slogx"
)

// Router holds shared dependencies for HTTP handlers.
type Router struct {
	Mux         *http.ServeMux
	middlewares []httpx.Middleware

	buildVersion string
	startTime    time.Time
	logger       *slog.Logger

	store       store.Store
	redisReplay *replay.RedisCache

	SessionService *service.SessionTokenService
	ProofService   *service.PossessionProofService
	TokenService   *service.SingleUseTokenService

	// TrustProxyHeaders is forwarded to the possession-proof gate; set it
	// only when a trusted proxy fronts the service.
	TrustProxyHeaders bool
}

// publicPrefixes are the paths the possession-proof gate never checks:
// health probes, session issuance/refresh (the caller has no token yet),
// and one-time token redemption.
var publicPrefixes = []string{
	"/livez",
	"/readyz",
	"/v1/session/",
	"/v1/one-time-tokens/validate",
}

func NewRouter(
	buildVersion string,
	st store.Store,
	redisReplay *replay.RedisCache,
	logger *slog.Logger,
) *Router {
	r := &Router{
		Mux:          http.NewServeMux(),
		buildVersion: buildVersion,
		startTime:    time.Now(),
		store:        st,
		redisReplay:  redisReplay,
		logger:       logger,
	}

	return r
}

func (r *Router) ApplyRoutes() {
	// The gate runs inside the global chain so every protected route gets
	// proof enforcement without per-route wiring.
	gate := &PossessionProofGate{
		Proofs:            r.ProofService,
		PublicPrefixes:    publicPrefixes,
		TrustProxyHeaders: r.TrustProxyHeaders,
	}
	r.middlewares = []httpx.Middleware{
		slogx.HTTPMiddleware(r.logger),
		gate.Middleware(),
	}

	r.registerOneTimeTokens()
	r.registerSession()
	r.registerSystem()
}

// ServeHTTP implements http.Handler for Router and applies the global
// middleware chain.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	httpx.Chain(r.Mux, r.middlewares...).ServeHTTP(w, req)
}

func (r *Router) registerOneTimeTokens() {
	h := &OneTimeTokenHandler{Tokens: r.TokenService}

	// POST /v1/one-time-tokens - strict rate limit (token minting)
	r.Mux.Handle("POST /v1/one-time-tokens",
		httpx.Chain(http.HandlerFunc(h.HandleCreate),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /v1/one-time-tokens/validate - strict rate limit (guess attempts)
	r.Mux.Handle("POST /v1/one-time-tokens/validate",
		httpx.Chain(http.HandlerFunc(h.HandleValidate),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// GET /v1/one-time-tokens/{token} - moderate rate limit (read-only)
	r.Mux.Handle("GET /v1/one-time-tokens/{token}",
		httpx.Chain(http.HandlerFunc(h.HandleInfo),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// User-scoped listing and revocation - moderate rate limit
	r.Mux.Handle("GET /v1/users/{id}/one-time-tokens",
		httpx.Chain(http.HandlerFunc(h.HandleListActive),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
	r.Mux.Handle("DELETE /v1/users/{id}/one-time-tokens",
		httpx.Chain(http.HandlerFunc(h.HandleRevoke),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)

	// POST /v1/admin/one-time-tokens/cleanup - strict rate limit (admin op)
	r.Mux.Handle("POST /v1/admin/one-time-tokens/cleanup",
		httpx.Chain(http.HandlerFunc(h.HandleCleanup),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)
}

func (r *Router) registerSession() {
	h := &SessionHandler{Sessions: r.SessionService}

	// POST /v1/session/tokens - strict rate limit (issuance)
	r.Mux.Handle("POST /v1/session/tokens",
		httpx.Chain(http.HandlerFunc(h.HandleIssue),
			httpx.RateLimitByIP(httpx.StrictLimit),
		),
	)

	// POST /v1/session/refresh - moderate rate limit
	r.Mux.Handle("POST /v1/session/refresh",
		httpx.Chain(http.HandlerFunc(h.HandleRefresh),
			httpx.RateLimitByIP(httpx.ModerateLimit),
		),
	)
}

func (r *Router) registerSystem() {
	// Health check endpoints - lenient rate limits (monitoring systems poll)
	r.Mux.Handle("GET /livez",
		httpx.Chain(LivezHandler(r.startTime, r.buildVersion),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
	r.Mux.Handle("GET /readyz",
		httpx.Chain(ReadyzHandler(r.startTime, r.buildVersion, r.store, r.redisReplay),
			httpx.RateLimitByIP(httpx.LenientLimit),
		),
	)
}
