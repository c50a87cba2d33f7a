// Package core provides the API chassis for FieldWatch. It builds the chi
// router, applies the cross-cutting middleware (recovery, request IDs,
// logging, CORS, metrics, authentication) and renders the response envelope
// shared by every handler.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fieldwatch/internal/config"
)

// Server encapsulates all dependencies for the FieldWatch API.
type Server struct {
	Config        *config.Config
	Logger        *slog.Logger
	Validator     *Validator
	Metrics       MetricsCollector
	Authenticator Authenticator
	HealthChecks  []HealthCheck

	// V1RouteRegistrars mount domain handlers under /v1. They are supplied by
	// cmd/api so core never imports the handler packages.
	V1RouteRegistrars []func(chi.Router)

	// closers run on Shutdown in registration order.
	closers []func()

	router *chi.Mux
}

// NewServer prepares a server for route mounting. The caller mounts routes
// with MountRoutes after filling in the optional dependencies.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers fn to run during Shutdown, e.g. closing the pgx pool.
func (s *Server) OnShutdown(fn func()) {
	s.closers = append(s.closers, fn)
}

// Shutdown releases server resources.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.InfoContext(ctx, "server shutdown initiated")
	for _, fn := range s.closers {
		fn()
	}
	s.Logger.InfoContext(ctx, "server shutdown complete")
	return nil
}
