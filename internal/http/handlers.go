package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redisadapter "github.com/robertarktes/traveland-bookings/internal/adapters/redis"
	"github.com/robertarktes/traveland-bookings/internal/booking"
	"github.com/robertarktes/traveland-bookings/internal/config"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/robertarktes/traveland-bookings/internal/observability"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handlers struct {
	cfg    *config.Config
	svc    *booking.Coordinator
	cache  *redisadapter.Cache
	db     Pinger
	logger observability.Logger
}

// NewHandlers wires the HTTP surface. cache may be nil, which disables
// package caching.
func NewHandlers(cfg *config.Config, svc *booking.Coordinator, cache *redisadapter.Cache, db Pinger, logger observability.Logger) *Handlers {
	return &Handlers{cfg: cfg, svc: svc, cache: cache, db: db, logger: logger}
}

func pathID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, domain.Invalid("Invalid %s.", name)
	}
	return id, nil
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req booking.CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	b, err := h.svc.CreateBooking(r.Context(), identityFrom(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidatePackage(r.Context(), b.PackageID)

	ok(w, http.StatusCreated, "Booking created successfully.", toBooking(*b))
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.svc.GetBooking(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "", toBooking(*b))
}

func (h *Handlers) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	page := pageFrom(r)
	list, total, err := h.svc.ListMyBookings(r.Context(), identityFrom(r.Context()), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: toBookings(list), Pagination: newPagination(page, total)})
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	b, err := h.svc.CancelBooking(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidatePackage(r.Context(), b.PackageID)
	ok(w, http.StatusOK, "Booking cancelled.", toBooking(*b))
}

func (h *Handlers) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req booking.PaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.svc.Pay(r.Context(), identityFrom(r.Context()), req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if p.Status != domain.PaymentCompleted {
		writeJSON(w, http.StatusPaymentRequired, envelope{Success: false, Message: "Payment failed.", Data: toPayment(*p)})
		return
	}
	ok(w, http.StatusOK, "Payment processed successfully.", toPayment(*p))
}

func (h *Handlers) ListMyPayments(w http.ResponseWriter, r *http.Request) {
	page := pageFrom(r)
	list, total, err := h.svc.ListMyPayments(r.Context(), identityFrom(r.Context()), page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: toPayments(list), Pagination: newPagination(page, total)})
}

func (h *Handlers) PaymentsForBooking(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "booking_id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	list, err := h.svc.PaymentsForBooking(r.Context(), identityFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ok(w, http.StatusOK, "", toPayments(list))
}

func (h *Handlers) GetPackage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	var cached packageResponse
	if h.cache != nil {
		hit, err := h.cache.GetJSON(r.Context(), redisadapter.PackageKey(id), &cached)
		if err != nil {
			observability.LoggerFrom(r.Context(), h.logger).WithError(err).Warn("package cache read")
		}
		if hit {
			ok(w, http.StatusOK, "", cached)
			return
		}
	}

	pkg, err := h.svc.PackageDetails(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := toPackage(*pkg)
	if h.cache != nil {
		if err := h.cache.SetJSON(r.Context(), redisadapter.PackageKey(id), resp, h.cfg.PackageCacheTTL); err != nil {
			observability.LoggerFrom(r.Context(), h.logger).WithError(err).Warn("package cache write")
		}
	}
	ok(w, http.StatusOK, "", resp)
}

func (h *Handlers) ReplaceAvailability(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req booking.ReplaceAvailabilityRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	slots, err := req.Validate(id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.ReplaceAvailability(r.Context(), identityFrom(r.Context()), id, slots); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.invalidatePackage(r.Context(), id)
	ok(w, http.StatusOK, "Availability updated.", nil)
}

func (h *Handlers) invalidatePackage(ctx context.Context, id uuid.UUID) {
	if h.cache == nil {
		return
	}
	if err := h.cache.Invalidate(ctx, redisadapter.PackageKey(id)); err != nil {
		observability.LoggerFrom(ctx, h.logger).WithError(err).Warn("package cache invalidate")
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	ok(w, http.StatusOK, "OK", nil)
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		observability.LoggerFrom(r.Context(), h.logger).WithError(err).Warn("readiness check failed")
		fail(w, http.StatusServiceUnavailable, "Database unavailable.")
		return
	}
	ok(w, http.StatusOK, "Ready", nil)
}
