// Package api exposes the translation service over HTTP: named-session
// identity, a streaming SSE translation endpoint, a synchronous variant,
// and the per-user translation log.
package api

import (
	"log/slog"
	"net/http"

	"github.com/calico0/parley/internal/persona"
)

// ServerConfig carries the dependencies and policy knobs for the HTTP
// server. Turner, Users, Lister, Pinger, Personas, and HMACSecret are
// required.
type ServerConfig struct {
	Turner   Turner
	Users    UserStore
	Lister   TranslationLister
	Pinger   Pinger
	Personas *persona.Store
	Logger   *slog.Logger

	// HMACSecret signs identity cookies. SecureCookies marks them
	// Secure; leave false only for plain-HTTP development.
	HMACSecret    string
	SecureCookies bool

	CORSOrigins []string
	TrustProxy  bool

	// Zero values use defaultRatePerSecond / defaultRateBurst.
	RatePerSecond float64
	RateBurst     int
}

// Server is the HTTP front end. All per-turn state lives in the turn
// lock table; handlers are otherwise stateless and safe for concurrent use.
type Server struct {
	turner   Turner
	users    UserStore
	lister   TranslationLister
	pinger   Pinger
	personas *persona.Store
	identity *identity
	turns    *turnLocks
	limiter  *rateLimiter
	logger   *slog.Logger

	corsOrigins []string
	trustProxy  bool
}

// NewServer creates a Server from cfg.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rps := cfg.RatePerSecond
	if rps <= 0 {
		rps = defaultRatePerSecond
	}
	burst := cfg.RateBurst
	if burst <= 0 {
		burst = defaultRateBurst
	}

	return &Server{
		turner:      cfg.Turner,
		users:       cfg.Users,
		lister:      cfg.Lister,
		pinger:      cfg.Pinger,
		personas:    cfg.Personas,
		identity:    newIdentity(cfg.HMACSecret, cfg.SecureCookies),
		turns:       newTurnLocks(),
		limiter:     newRateLimiter(rps, burst),
		logger:      logger,
		corsOrigins: cfg.CORSOrigins,
		trustProxy:  cfg.TrustProxy,
	}
}

// handlePersonas lists the available persona ids.
func (s *Server) handlePersonas(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"personas": s.personas.IDs()})
}

// Handler returns the full HTTP handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	mux.HandleFunc("POST /api/v1/login", s.handleLogin)
	mux.HandleFunc("POST /api/v1/logout", s.handleLogout)
	mux.HandleFunc("GET /api/v1/me", s.handleMe)

	mux.HandleFunc("GET /api/v1/personas", s.handlePersonas)
	mux.HandleFunc("POST /api/v1/translate", s.handleTranslate)
	mux.HandleFunc("POST /api/v1/translate/stream", s.handleTranslateStream)
	mux.HandleFunc("GET /api/v1/translations", s.handleTranslations)

	var h http.Handler = mux
	h = rateLimitMiddleware(s.limiter, s.trustProxy, s.logger)(h)
	h = corsMiddleware(s.corsOrigins)(h)
	h = requestLogMiddleware(s.logger)(h)
	h = recoveryMiddleware(s.logger)(h)
	return h
}
