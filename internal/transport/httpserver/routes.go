package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"smartpot-app-go/internal/config"
	"smartpot-app-go/internal/transport/httpserver/handler"
	authmw "smartpot-app-go/internal/transport/httpserver/middleware"
	"smartpot-app-go/pkg/logger"
)

func NewRouter(cfg config.Config, handlers *handler.Handlers, log logger.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(authmw.NewCORS(cfg.CORS.AllowedOrigins))

	auth := authmw.NewTokenAuth(cfg.Auth, log)

	r.Route("/api", func(r chi.Router) {
		r.Use(chimw.Timeout(30 * time.Second))

		r.Get("/health", handlers.Common.Health)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)

			r.Get("/auth/me", handlers.Common.AuthMe)

			r.Post("/transplant/same-household", handlers.Transplant.SameHousehold)
			r.Post("/transplant/cross-household", handlers.Transplant.CrossHousehold)
			r.Post("/smart-pot/transplant", handlers.Transplant.SmartPot)

			r.Get("/flowers/{id}/binding", handlers.Bindings.GetFlowerBinding)
			r.Post("/flowers/{id}/disconnect", handlers.Bindings.DisconnectFlower)
			r.Post("/smart-pots/{serial}/disconnect", handlers.Bindings.DisconnectSmartPot)

			r.Post("/measurements", handlers.Measurements.Ingest)
			r.Post("/measurements/batch", handlers.Measurements.IngestBatch)
			r.Put("/measurements/{id}", handlers.Measurements.Update)
			r.Delete("/measurements/{id}", handlers.Measurements.Delete)
			r.Get("/flowers/{id}/measurements", handlers.Measurements.History)
			r.Get("/flowers/{id}/measurements/latest", handlers.Measurements.Latest)
		})
	})

	// Streams outlive the request timeout applied to /api.
	r.With(auth.Middleware).Get("/ws/measurements/{flowerId}", handlers.Telemetry.Measurements)

	return r
}
