package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/traveland-bookings/internal/adapters/mongo"
	"github.com/robertarktes/traveland-bookings/internal/adapters/postgres"
	redisadapter "github.com/robertarktes/traveland-bookings/internal/adapters/redis"
	"github.com/robertarktes/traveland-bookings/internal/booking"
	"github.com/robertarktes/traveland-bookings/internal/config"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sweepBatch = 100

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "expiry-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()
	if cfg.PendingBookingTTL <= 0 {
		logger.Info("PENDING_BOOKING_TTL is 0, expiry disabled")
		return
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := postgres.NewRepository(pool, postgres.WithIsolation(cfg.DBIsolation), postgres.WithTxTimeout(cfg.DBTxTimeout))

	opts := []booking.Option{booking.WithCurrency(cfg.DefaultCurrency)}
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		opts = append(opts, booking.WithAuditor(mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)))
	}

	coord := booking.NewCoordinator(repo, booking.Stores{
		Catalog:   postgres.NewCatalog(pool),
		Inventory: postgres.NewInventory(pool),
		Bookings:  postgres.NewBookingLedger(pool),
		Payments:  postgres.NewPaymentLedger(pool),
		Outbox:    postgres.NewOutbox(pool),
	}, logger, opts...)

	var cache *redisadapter.Cache
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cache = redisadapter.NewCache(redisClient)
	}

	worker := NewExpiryWorker(coord, cache, logger, cfg.PendingBookingTTL)
	logger.WithField("ttl", cfg.PendingBookingTTL.String()).Info("expiry worker started")
	worker.Run(ctx, cfg.ExpiryInterval)
	logger.Info("Shutdown expiry worker")
}

type Expirer interface {
	ExpireStalePending(ctx context.Context, ttl time.Duration, limit int) ([]domain.Booking, error)
}

type ExpiryWorker struct {
	svc        Expirer
	cache      *redisadapter.Cache
	logger     observability.Logger
	ttl        time.Duration
	maxRetries int
	backoff    func(attempt int) time.Duration
}

// NewExpiryWorker builds a worker cancelling bookings pending longer than
// ttl. cache may be nil.
func NewExpiryWorker(svc Expirer, cache *redisadapter.Cache, logger observability.Logger, ttl time.Duration) *ExpiryWorker {
	return &ExpiryWorker{
		svc:        svc,
		cache:      cache,
		logger:     logger,
		ttl:        ttl,
		maxRetries: 3,
		backoff:    func(i int) time.Duration { return time.Duration(1<<i) * time.Second },
	}
}

func (w *ExpiryWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				w.logger.WithError(err).Error("expiry sweep failed after retries")
				continue
			}
			if n > 0 {
				w.logger.WithField("expired", n).Info("expired stale bookings")
			}
		}
	}
}

// Sweep drains stale pending bookings one batch at a time. A failing batch
// is retried with exponential backoff.
func (w *ExpiryWorker) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		expired, err := w.sweepWithRetry(ctx)
		if err != nil {
			return total, err
		}
		total += len(expired)
		w.invalidate(ctx, expired)
		if len(expired) < sweepBatch {
			return total, nil
		}
	}
}

func (w *ExpiryWorker) sweepWithRetry(ctx context.Context) ([]domain.Booking, error) {
	var lastErr error
	for i := 0; i < w.maxRetries; i++ {
		expired, err := w.svc.ExpireStalePending(ctx, w.ttl, sweepBatch)
		if err == nil {
			return expired, nil
		}
		lastErr = err
		w.logger.WithError(err).WithField("attempt", i+1).Warn("expiry sweep failed")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(w.backoff(i)):
		}
	}
	return nil, errors.Wrapf(lastErr, "failed after %d retries", w.maxRetries)
}

func (w *ExpiryWorker) invalidate(ctx context.Context, expired []domain.Booking) {
	if w.cache == nil || len(expired) == 0 {
		return
	}
	seen := make(map[uuid.UUID]struct{}, len(expired))
	keys := make([]string, 0, len(expired))
	for _, b := range expired {
		if _, ok := seen[b.PackageID]; ok {
			continue
		}
		seen[b.PackageID] = struct{}{}
		keys = append(keys, redisadapter.PackageKey(b.PackageID))
	}
	if err := w.cache.Invalidate(ctx, keys...); err != nil {
		w.logger.WithError(err).Warn("package cache invalidate")
	}
}
