// Package server wires the gateway's routes and middleware chain.
package server

import (
	"log/slog"
	"net/http"

	"github.com/meetline-ai/meetline/pkg/core/calendar"
	"github.com/meetline-ai/meetline/pkg/core/transcript"
	"github.com/meetline-ai/meetline/pkg/core/voice/stt"
	"github.com/meetline-ai/meetline/pkg/gateway/config"
	"github.com/meetline-ai/meetline/pkg/gateway/handlers"
	"github.com/meetline-ai/meetline/pkg/gateway/lifecycle"
	"github.com/meetline-ai/meetline/pkg/gateway/mw"
	"github.com/meetline-ai/meetline/pkg/gateway/ratelimit"
	"github.com/meetline-ai/meetline/pkg/gateway/session"
)

// Deps carries the capabilities the transport layer serves. Agent and
// Store are required; the rest degrade gracefully when absent (audio
// turns rejected without STT, OAuth endpoints report unconfigured).
type Deps struct {
	Agent       handlers.Agent
	STT         stt.Provider
	Store       transcript.Store
	OAuthFlow   *calendar.OAuthFlow
	Credentials calendar.CredentialsStore
	Lifecycle   *lifecycle.Lifecycle
	Tracker     *session.Tracker
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Deps

	limiter *ratelimit.Limiter
}

func New(cfg config.Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = &lifecycle.Lifecycle{}
	}
	if deps.Tracker == nil {
		deps.Tracker = session.NewTracker()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                  cfg.LimitRPS,
			Burst:                cfg.LimitBurst,
			MaxConcurrentStreams: cfg.LimitMaxConcurrentStreams,
		}),
	}

	s.routes()
	return s
}

// Lifecycle returns the drain flag shared with the handlers.
func (s *Server) Lifecycle() *lifecycle.Lifecycle { return s.deps.Lifecycle }

// Tracker returns the live-session registry, for shutdown draining.
func (s *Server) Tracker() *session.Tracker { return s.deps.Tracker }

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Lifecycle: s.deps.Lifecycle})

	s.mux.Handle("POST /v1/turns", handlers.TurnsHandler{
		Agent:     s.deps.Agent,
		STT:       s.deps.STT,
		Config:    s.cfg,
		Logger:    s.logger,
		Limiter:   s.limiter,
		Lifecycle: s.deps.Lifecycle,
	})
	s.mux.Handle("GET /v1/conversations/{id}", handlers.ConversationsHandler{
		Store: s.deps.Store,
	})
	s.mux.Handle("POST /v1/transcribe", handlers.TranscribeHandler{
		STT:    s.deps.STT,
		Config: s.cfg,
	})

	oauth := handlers.OAuthHandler{Flow: s.deps.OAuthFlow, Store: s.deps.Credentials, Logger: s.logger}
	s.mux.HandleFunc("GET /v1/oauth/google/login", oauth.Login)
	s.mux.HandleFunc("GET /v1/oauth/google/callback", oauth.Callback)

	s.mux.Handle("GET /v1/live", handlers.LiveHandler{
		Agent:     s.deps.Agent,
		STT:       s.deps.STT,
		Config:    s.cfg,
		Logger:    s.logger,
		Tracker:   s.deps.Tracker,
		Lifecycle: s.deps.Lifecycle,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Session(h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
