package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics register themselves with the default registry on package init.
var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traveland_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "traveland_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	BookingsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "traveland_bookings_created_total",
			Help: "Bookings committed",
		},
	)

	BookingRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traveland_booking_rejections_total",
			Help: "Booking attempts rolled back, by reason",
		},
		[]string{"reason"},
	)

	SlotContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "traveland_slot_contention_total",
			Help: "Guarded slot decrements that found too few slots after the pre-check passed",
		},
	)

	BookingsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "traveland_bookings_expired_total",
			Help: "Pending bookings cancelled by the expiry worker",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "traveland_outbox_lag_seconds",
			Help: "Lag of outbox publishing",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "traveland_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "traveland_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	IdempotentReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "traveland_idempotent_replays_total",
			Help: "Responses served from the idempotency store",
		},
	)

	SettlementsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "traveland_settlements_handled_total",
			Help: "Gateway settlement messages, by outcome",
		},
		[]string{"outcome"},
	)
)
