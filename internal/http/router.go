package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/traveland-bookings/internal/idempotency"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"github.com/robertarktes/traveland-bookings/internal/rateLimit"
)

// SetupRouter builds the /v1 API. rl and idemp may be nil, which turns off
// rate limiting and idempotent replays.
func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		if rl != nil {
			r.Use(RateLimitIP(rl, h.cfg.RateLimitIP))
		}

		r.Get("/packages/{id}", h.GetPackage)

		r.Group(func(r chi.Router) {
			r.Use(JWTMiddleware([]byte(h.cfg.JWTSecret)))
			if rl != nil {
				r.Use(RateLimitUser(rl, h.cfg.RateLimitUser))
			}

			r.Route("/bookings", func(r chi.Router) {
				r.With(optional(idemp)...).Post("/", h.CreateBooking)
				r.Get("/my", h.ListMyBookings)
				r.Get("/{id}", h.GetBooking)
				r.Patch("/{id}/cancel", h.CancelBooking)
			})

			r.Route("/payments", func(r chi.Router) {
				r.With(optional(idemp)...).Post("/", h.CreatePayment)
				r.Get("/my", h.ListMyPayments)
				r.Get("/booking/{booking_id}", h.PaymentsForBooking)
			})

			r.Put("/admin/packages/{id}/availability", h.ReplaceAvailability)
		})
	})

	return r
}

func optional(idemp *idempotency.Idempotency) []func(http.Handler) http.Handler {
	if idemp == nil {
		return nil
	}
	return []func(http.Handler) http.Handler{IdempotencyMiddleware(idemp)}
}
