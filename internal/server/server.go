// Package server exposes the operator HTTP API: bot lifecycle controls and
// health checks, behind bearer-token auth, request logging and CORS.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/copybot/internal/domain"
	"github.com/alanyoungcy/copybot/internal/server/handler"
	"github.com/alanyoungcy/copybot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	AuthToken   string // empty disables authentication

	// RateLimiter, when set, bounds per-client request rates.
	RateLimiter domain.RateLimiter
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Bots   *handler.BotHandler
}

// Server is the operator-facing HTTP API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered and the middleware
// chain (CORS, logging, auth, rate limit) applied. The health endpoint stays
// outside the auth wall so load balancers can probe it.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	api := http.NewServeMux()
	api.HandleFunc("POST /api/bots/{user}/start", handlers.Bots.Start)
	api.HandleFunc("POST /api/bots/{user}/stop", handlers.Bots.Stop)
	api.HandleFunc("GET /api/bots/{user}/status", handlers.Bots.Status)
	api.HandleFunc("GET /api/bots/{user}/trades", handlers.Bots.Trades)

	var protected http.Handler = api
	protected = middleware.Auth(cfg.AuthToken)(protected)
	if cfg.RateLimiter != nil {
		protected = middleware.RateLimit(cfg.RateLimiter, 20, time.Second)(protected)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", handlers.Health.HealthCheck)
	root.Handle("/api/", protected)

	var h http.Handler = root
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening. It blocks until the server errors or shuts down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
