package httpserver

import (
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const internalTokenHeader = "X-Internal-Token"

// Routes groups HTTP handlers.
type Routes struct {
	Pricing       http.HandlerFunc
	SubmitInvoice http.HandlerFunc
	InvoicesMe    http.HandlerFunc
	Health        http.HandlerFunc
}

// NewRouter registers service endpoints. /internal requires internalToken
// when one is configured.
func NewRouter(routes Routes, internalToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	if routes.Health != nil {
		r.Get("/health", routes.Health)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/internal", func(r chi.Router) {
		r.Use(requireToken(internalToken))
		if routes.Pricing != nil {
			r.Get("/pricing", routes.Pricing)
		}
		if routes.SubmitInvoice != nil {
			r.Post("/invoices", routes.SubmitInvoice)
		}
	})
	if routes.InvoicesMe != nil {
		r.Get("/billing/me/invoices", routes.InvoicesMe)
	}
	return r
}

func requireToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get(internalTokenHeader)), []byte(token)) != 1 {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
