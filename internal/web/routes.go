package web

import (
	"github.com/go-chi/chi/v5"

	"gridmatch/internal/web/handlers"
)

// setupRoutes configures all routes for the web server.
func (s *Server) setupRoutes() {
	matchHandler := handlers.NewMatchHandler(s.matcher, s.store)
	configHandler := handlers.NewConfigHandler(s.matcher.Config())

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", handlers.HealthCheck)
		r.Get("/config", configHandler.Get)

		r.Post("/match", matchHandler.Match)
		r.Get("/matches/{pairId}", matchHandler.Get)
		r.Get("/images/{id}/matches", matchHandler.List)
	})
}
