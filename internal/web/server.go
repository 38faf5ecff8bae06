package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/kozaktomas/face-auth/internal/config"
	"github.com/kozaktomas/face-auth/internal/database"
	"github.com/kozaktomas/face-auth/internal/metrics"
	"github.com/kozaktomas/face-auth/internal/web/handlers"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
)

// Dependencies are the services the HTTP API is built on.
type Dependencies struct {
	Authenticator handlers.Authenticator
	Cache         handlers.CacheController
	Identities    database.IdentityCounter
	Bus           handlers.Publisher // optional
	Metrics       *metrics.Manager   // optional
}

// Server represents the web server
type Server struct {
	config     *config.Config
	deps       Dependencies
	router     *chi.Mux
	httpServer *http.Server
}

// NewServer creates a new web server
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	r := chi.NewRouter()

	s := &Server{
		config: cfg,
		deps:   deps,
		router: r,
	}

	// Set up middleware stack
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Timeout(cfg.Cache.RefreshTimeout + 30*time.Second))
	r.Use(middleware.CORS(cfg.Web.AllowedOrigins))
	r.Use(middleware.NoSniff())

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// A forced refresh may extract every reference photo.
		WriteTimeout: cfg.Cache.RefreshTimeout + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("starting web server")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down web server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router returns the chi router for testing
func (s *Server) Router() *chi.Mux {
	return s.router
}
