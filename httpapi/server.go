// Package httpapi implements the HttpServer (§4.8): route binding,
// auth, endpoint/body validation, and the wire surface documented in
// §6 (health, discovery, invite, announce, call, JSON-RPC, metrics).
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BSVanon/ClawSats-sub000/capability"
	"github.com/BSVanon/ClawSats-sub000/invite"
	"github.com/BSVanon/ClawSats-sub000/nodeconfig"
	"github.com/BSVanon/ClawSats-sub000/payment"
	"github.com/BSVanon/ClawSats-sub000/peerstore"
	"github.com/BSVanon/ClawSats-sub000/security"
	"github.com/BSVanon/ClawSats-sub000/wallet"
)

const maxBodyBytes = 64 * 1024

const inviteRateLimitWindowMs = 60 * 60 * 1000
const inviteRateLimitMax = 20

// Deps are the process-wide collaborators the HttpServer holds
// weak (lookup-only) references to (§3 Ownership).
type Deps struct {
	Wallet       wallet.Gateway
	Capabilities *capability.Registry
	Dispatcher   *payment.Dispatcher
	Peers        *peerstore.Registry
	Invites      *invite.Protocol
	Nonces       *security.NonceCache
	Config       nodeconfig.WalletConfig
	RPC          *RPCHandler

	APIKey    string
	Log       *slog.Logger
	StartedAt time.Time
	CORS      bool
}

// Server is the HttpServer.
type Server struct {
	deps         Deps
	inviteLimiter *security.RateLimiter
	router       chi.Router
}

// NewServer builds a Server with all routes bound.
func NewServer(deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.StartedAt.IsZero() {
		deps.StartedAt = time.Now()
	}
	s := &Server{
		deps:          deps,
		inviteLimiter: security.NewRateLimiter(inviteRateLimitWindowMs, inviteRateLimitMax),
	}
	s.router = s.buildRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) buildRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(bodyLimitMiddleware)
	if s.deps.CORS {
		r.Use(corsMiddleware)
	}
	r.Use(authMiddleware(s.deps.APIKey, s.deps.Log))

	r.Get("/health", s.handleHealth)
	r.Get("/discovery", s.handleDiscovery)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Post("/wallet/invite", s.handleWalletInvite)
	r.Post("/wallet/announce", s.handleWalletAnnounce)
	r.Post("/call/{cap}", s.handleCall)
	r.Post("/", s.handleJSONRPC)
	return r
}

func bodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}

func decodeJSONBody(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// contextWithTimeout is a small helper so handlers share one deadline
// convention for outbound calls they trigger.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
