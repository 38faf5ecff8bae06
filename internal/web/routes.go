package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-auth/internal/web/handlers"
	"github.com/kozaktomas/face-auth/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	healthHandler := handlers.NewHealthHandler(s.deps.Identities, s.deps.Cache)
	authHandler := handlers.NewAuthenticateHandler(s.deps.Authenticator, s.config)
	cacheHandler := handlers.NewCacheHandler(s.deps.Cache, s.deps.Bus, s.deps.Metrics, s.config.Match.Threshold)

	s.router.Get("/api/v1/health", healthHandler.Get)

	if s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/authenticate", authHandler.Authenticate)

		// Operator endpoints
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdminToken(s.config.Web.AdminToken))

			r.Get("/cache", cacheHandler.Stats)
			r.Post("/cache/refresh", cacheHandler.Refresh)
			r.Post("/cache/invalidate", cacheHandler.Invalidate)
			r.Get("/cache/audit", cacheHandler.Audit)
		})
	})

	s.router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": "not found"}`))
	})
}
