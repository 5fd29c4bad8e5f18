package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"constructlink/internal/config"
	"constructlink/internal/domain"
	"constructlink/internal/logging"
	"constructlink/internal/workflow"

	"github.com/rs/zerolog"
)

// HealthFunc reports whether a backing dependency is usable.
type HealthFunc func(ctx context.Context) error

// HTTPServer exposes the borrowing workflow over JSON.
type HTTPServer struct {
	cfg     config.APIConfig
	engine  *workflow.Engine
	limiter domain.RateLimiter
	health  HealthFunc
	auth    *HTTPAuth
	handler http.Handler
	server  *http.Server
	logger  *zerolog.Logger
}

// NewHTTPServer builds the router. limiter and health may be nil.
func NewHTTPServer(cfg config.APIConfig, engine *workflow.Engine, limiter domain.RateLimiter, health HealthFunc, logger *zerolog.Logger) (*HTTPServer, error) {
	l := logging.Component(logger, "http")
	auth, err := NewHTTPAuth(cfg, l)
	if err != nil {
		return nil, fmt.Errorf("configure api auth: %w", err)
	}
	if !cfg.Auth.Enabled {
		l.Warn().Msg("API key auth is disabled, actors are taken from request headers")
	}

	s := &HTTPServer{cfg: cfg, engine: engine, limiter: limiter, health: health, auth: auth, logger: l}

	mux := http.NewServeMux()
	route := func(pattern string, h http.HandlerFunc) { mux.HandleFunc(pattern, counted(pattern, h)) }
	route("GET /healthz", s.handleHealth)
	route("POST /api/v1/batches", s.handleSubmit)
	route("GET /api/v1/batches", s.handleList)
	route("GET /api/v1/batches/{id}", s.handleGet)
	route("POST /api/v1/batches/{id}/transitions", s.handleTransition)
	route("PUT /api/v1/batches/{id}/schedule", s.handleSchedule)
	route("GET /api/v1/batches/{id}/audit", s.handleAudit)

	s.handler = requestIDMiddleware(
		loggingMiddleware(l)(
			recoverMiddleware(l)(
				auth.Wrap(mux))))

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	return s, nil
}

func (s *HTTPServer) Handler() http.Handler { return s.handler }

func (s *HTTPServer) Addr() string { return s.server.Addr }

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
