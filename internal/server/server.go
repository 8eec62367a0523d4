package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/papersync/papersync/internal/analyze"
	"github.com/papersync/papersync/internal/arxiv"
	"github.com/papersync/papersync/internal/cache"
	"github.com/papersync/papersync/internal/cache/memory"
	"github.com/papersync/papersync/internal/config"
	"github.com/papersync/papersync/internal/gate"
	"github.com/papersync/papersync/internal/httpclient"
	"github.com/papersync/papersync/internal/identity"
	"github.com/papersync/papersync/internal/logutil"
	"github.com/papersync/papersync/internal/relay"
	"github.com/papersync/papersync/internal/store"
	"github.com/papersync/papersync/internal/syncpack"
)

var (
	ErrNilConfig  = errors.New("config is nil")
	ErrMissingDep = errors.New("missing dependency")
)

// Deps carries the collaborators the HTTP layer is built on.
type Deps struct {
	Store       *store.Store
	HTTPClient  *httpclient.Client
	Relay       *relay.Handler
	Gate        *gate.Gate
	Searcher    arxiv.Searcher
	Analyzer    analyze.Analyzer
	SyncManager *syncpack.Manager
	AdminAuth   *identity.AdminAuth
}

func validateDeps(deps Deps) error {
	switch {
	case deps.Store == nil:
		return fmt.Errorf("%w: store", ErrMissingDep)
	case deps.HTTPClient == nil:
		return fmt.Errorf("%w: http client", ErrMissingDep)
	case deps.Relay == nil:
		return fmt.Errorf("%w: relay handler", ErrMissingDep)
	case deps.Gate == nil:
		return fmt.Errorf("%w: availability gate", ErrMissingDep)
	case deps.Searcher == nil:
		return fmt.Errorf("%w: searcher", ErrMissingDep)
	case deps.Analyzer == nil:
		return fmt.Errorf("%w: analyzer", ErrMissingDep)
	case deps.SyncManager == nil:
		return fmt.Errorf("%w: sync manager", ErrMissingDep)
	case deps.AdminAuth == nil:
		return fmt.Errorf("%w: admin auth", ErrMissingDep)
	}
	return nil
}

// Server is the papersync HTTP server.
type Server struct {
	cfg       *config.Config
	deps      Deps
	logger    *slog.Logger
	router    chi.Router
	http      *http.Server
	tls       *TLSManager
	rlCounter *memory.Cache
}

// New builds the server and mounts all routes.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if err := validateDeps(deps); err != nil {
		return nil, err
	}
	logger = logutil.NoopIfNil(logger)

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		tls:       NewTLSManager(&cfg.TLS, logger),
		rlCounter: memory.New(cache.TTLRateLimit, time.Minute),
	}
	s.router = s.buildRouter()
	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving and blocks until the listener stops.
func (s *Server) Start() error {
	tlsConfig, err := s.tls.GetTLSConfig(hostnameFromOrigin(s.cfg.ExternalOrigin))
	if err != nil {
		return fmt.Errorf("failed to configure TLS: %w", err)
	}

	if tlsConfig == nil {
		s.logger.Info("listening", "addr", s.cfg.ListenAddr, "tls", false)
		return s.http.ListenAndServe()
	}

	s.http.TLSConfig = tlsConfig
	s.logger.Info("listening", "addr", s.cfg.ListenAddr, "tls", true)
	return s.http.ListenAndServeTLS("", "")
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	defer s.rlCounter.Close()
	return s.http.Shutdown(ctx)
}

// relayURL returns the relay endpoint the proxied WebDAV transport posts to.
func (s *Server) relayURL() string {
	if s.cfg.Sync.RelayURL != "" {
		return s.cfg.Sync.RelayURL
	}
	return s.cfg.ExternalOrigin + "/api/relay/webdav"
}

func hostnameFromOrigin(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}
