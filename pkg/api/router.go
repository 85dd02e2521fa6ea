package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Router builds the service's HTTP routing table. The Stripe webhook route
// skips bearer authentication: Stripe authenticates itself with the
// signature header instead.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	r.Get("/healthz", h.Health)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/actions/{operation}", h.Action)
		r.Get("/usage", h.Usage)

		r.Route("/billing", func(r chi.Router) {
			r.Post("/checkout", h.Checkout)
			r.Post("/portal", h.Portal)
			if h.config.Billing != nil {
				r.Method(http.MethodPost, "/webhook", h.config.Billing.WebhookHandler())
			}
		})
	})

	return r
}
