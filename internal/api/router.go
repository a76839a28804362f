package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// routes builds the router with middleware and all endpoints.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)

		r.Route("/v1", func(r chi.Router) {
			r.Get("/state", s.handleGetState)
			r.Get("/state/filter", s.handleFilterState)
			r.Put("/state", s.handlePutState)
			r.Post("/rpc", s.handleRPC)
			r.Get("/history", s.handleHistory)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}
