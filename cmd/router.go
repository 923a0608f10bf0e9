package main

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/angeloszaimis/driftwatch/internal/handler"
	"github.com/angeloszaimis/driftwatch/internal/metrics"
)

func setupRouter(admin *handler.AdminHandler, collector *metrics.Collector, provider *metrics.Provider, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(handler.RequestLogger(logger))

	r.Get("/healthz", admin.Health)
	r.Get("/metrics", provider.Handler().ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", collector.Handler())
		r.Get("/limiter", admin.Limiter)
		r.Get("/target", admin.Target)

		r.Get("/breakers", admin.Breakers)
		r.Post("/breakers/{endpoint}/reset", admin.ResetBreaker)

		r.Get("/schemas/{endpoint}", admin.LatestSchema)
		r.Get("/schemas/{endpoint}/history", admin.SchemaHistory)
	})

	return r
}
