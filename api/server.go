/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the dashboard frontend

ROUTE GROUPS:
  /api/reports/*       Sales report ingestion and period queries
  /api/years/*         Cumulative fiscal-year queries
  /api/aliases/*       Manager alias administration
  /api/overrides/*     Manager override administration
  /api/master          School master administration
  /api/member-rates/*  Enrollment rate ingestion and queries

SECURITY NOTE:
  No authentication middleware. The server is meant for an internal
  network.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Route("/reports", func(r chi.Router) {
			r.Post("/", h.SubmitReport)
			r.Get("/{year}/{month}", h.GetReport)
		})

		r.Route("/years", func(r chi.Router) {
			r.Get("/", h.ListYears)
			r.Get("/{fy}", h.GetYear)
		})

		r.Route("/aliases", func(r chi.Router) {
			r.Get("/", h.ListAliases)
			r.Post("/", h.CreateAlias)
		})

		r.Route("/overrides", func(r chi.Router) {
			r.Get("/", h.ListOverrides)
			r.Post("/", h.CreateOverride)
		})

		r.Route("/master", func(r chi.Router) {
			r.Get("/", h.ListMaster)
			r.Put("/", h.ReplaceMaster)
		})

		r.Route("/member-rates", func(r chi.Router) {
			r.Post("/", h.SubmitMemberRates)
			r.Get("/{year}/{month}", h.GetMemberRates)
		})
	})

	return r
}
