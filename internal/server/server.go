// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Halodesk Contributors

package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/halodesk/halodesk/internal/metrics"
	"github.com/halodesk/halodesk/internal/provider"
	"github.com/halodesk/halodesk/internal/turn"
	hderr "github.com/halodesk/halodesk/pkg/errors"
)

// Config holds HTTP server configuration.
type Config struct {
	ListenAddr   string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Services are the engine components the HTTP surface exposes.
type Services struct {
	Orchestrator *turn.Orchestrator
	Drafts       *turn.DraftService

	// Providers reports completion adapter health; optional.
	Providers *provider.Router
	// Metrics serves the /metrics scrape endpoint; optional.
	Metrics *metrics.Metrics
}

// Server wraps a chi router with a huma API and the HTTP listener.
type Server struct {
	router   chi.Router
	api      huma.API
	cfg      Config
	services *Services
}

// New creates a Server with chi router, huma API, CORS, and the turn,
// draft, and health routes.
func New(cfg Config, svc *Services) (*Server, error) {
	if cfg.ListenAddr == "" {
		return nil, hderr.New(hderr.CodeServerConfigInvalid, "listen address is required")
	}
	if svc == nil || svc.Orchestrator == nil || svc.Drafts == nil {
		return nil, hderr.New(hderr.CodeServerConfigInvalid, "orchestrator and draft service are required")
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 60 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(corsMiddleware(cfg.CORSOrigins))

	humaConfig := huma.DefaultConfig("Halodesk Engine", "0.1.0")
	humaConfig.Info.Description = "Turn orchestration and guardrail engine for support conversations"
	api := humachi.New(r, humaConfig)

	srv := &Server{
		router:   r,
		api:      api,
		cfg:      cfg,
		services: svc,
	}
	srv.registerRoutes()

	if svc.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", svc.Metrics.Handler())
	}

	return srv, nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.router
}

// API returns the huma API for registering additional operations.
func (s *Server) API() huma.API {
	return s.api
}

// Start runs the HTTP server and blocks until the context is cancelled,
// then performs graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return hderr.Wrapf(err, hderr.CodeServerStartFailure, "listening on %s", s.cfg.ListenAddr)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return hderr.Wrap(err, hderr.CodeServerShutdownFailure, "shutting down")
	}

	return <-errCh
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}
