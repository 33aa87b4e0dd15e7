package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"evcharge/backend/services/booking-service/internal/http/handlers"
	"evcharge/backend/services/booking-service/internal/http/middleware"
)

// Routes groups handlers.
type Routes struct {
	Bookings    *handlers.BookingsHandler
	Credentials *handlers.CredentialsHandler
	Slots       *handlers.SlotsHandler
	Stream      *handlers.StreamHandler
	Health      http.HandlerFunc
}

// NewRouter registers endpoints. Everything under /api requires a bearer token.
func NewRouter(routes Routes, jwtSecret string, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chimiddleware.Recoverer)

	if routes.Health != nil {
		r.Get("/health", routes.Health)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.AuthMiddleware(jwtSecret))

		if b := routes.Bookings; b != nil {
			r.Route("/bookings", func(r chi.Router) {
				r.Post("/", b.Create)
				r.Get("/", b.List)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", b.Get)
					r.Post("/cancel", b.Cancel)
					r.Post("/confirm", b.Confirm)
					r.Post("/start", b.Start)
					r.Post("/stop", b.Stop)
					r.Post("/samples", b.RecordSample)
					r.Get("/progress", b.Progress)
					if routes.Stream != nil {
						r.Get("/progress/stream", routes.Stream.Stream)
					}
				})
			})
		}
		if routes.Credentials != nil {
			r.Post("/credentials/scan", routes.Credentials.Scan)
		}
		if s := routes.Slots; s != nil {
			r.Get("/slots/{id}", s.Get)
			r.Put("/slots/{id}/maintenance", s.SetMaintenance)
			r.Post("/admin/no-show-sweep", s.SweepNoShows)
		}
	})
	return r
}
