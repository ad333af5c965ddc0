package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/choisimo/newsinsight-monitor/internal/app"
)

// Server wraps the HTTP server and routes
type Server struct {
	app    *app.App
	router *http.ServeMux
	server *http.Server
}

// New creates a new server with routes registered
func New(a *app.App) *Server {
	s := &Server{
		app:    a,
		router: http.NewServeMux(),
	}

	s.registerRoutes()

	addr := fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.withConditionalMiddleware(s.router),
		// WriteTimeout is deliberately unset: SSE and WebSocket
		// connections outlive any fixed response deadline
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. Blocks until the server stops.
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	return s.server.Addr
}
