// Package mockserver implements a development ingest service speaking the
// bootstrap, claim and batch protocol, with admin endpoints for driving
// connect codes and token revocation from tests and the CLI.
package mockserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultIssuer is the iss claim of issued tokens.
const DefaultIssuer = "testernest-mock"

// Config configures a Server.
type Config struct {
	Port            int
	SigningSecret   string
	Issuer          string
	TokenTTL        time.Duration
	PublicKeyHashes []string
	ConnectCodes    []string
	RequestTimeout  time.Duration
	EnableAdmin     bool
}

// Server is the mock ingest service.
type Server struct {
	Router *chi.Mux
	Port   int

	logger *slog.Logger
	keys   *KeyRegistry
	tokens *TokenIssuer
	state  *State
	http   *http.Server
}

// New builds a server and registers its routes. Static connect codes from
// cfg never expire.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	tokens, err := NewTokenIssuer([]byte(cfg.SigningSecret), cfg.Issuer, cfg.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("create token issuer: %w", err)
	}

	s := &Server{
		Router: chi.NewRouter(),
		Port:   cfg.Port,
		logger: logger,
		keys:   NewKeyRegistry(cfg.PublicKeyHashes),
		tokens: tokens,
		state:  NewState(),
	}
	for _, code := range cfg.ConnectCodes {
		if _, err := s.state.AddConnectCode(code, 0); err != nil {
			return nil, fmt.Errorf("register connect code: %w", err)
		}
	}

	r := s.Router
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(TimeoutMiddleware(cfg.RequestTimeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "testernest-mock")
	})

	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1/mobile", func(r chi.Router) {
		r.Post("/bootstrap", s.handleBootstrap)
		r.Post("/claim", s.handleClaim)
		r.Post("/events/batch", s.handleEventsBatch)
	})
	if cfg.EnableAdmin {
		r.Route("/admin", func(r chi.Router) {
			r.Post("/connect-codes", s.handleCreateConnectCode)
			r.Get("/events", s.handleListEvents)
			r.Post("/revoke", s.handleRevoke)
		})
	}

	return s, nil
}

// State exposes the server's in-memory records.
func (s *Server) State() *State {
	return s.state
}

// Tokens exposes the token issuer.
func (s *Server) Tokens() *TokenIssuer {
	return s.tokens
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.Port),
		Handler:           s.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting mock ingest server", slog.Int("port", s.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
