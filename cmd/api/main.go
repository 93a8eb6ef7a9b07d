package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/traveland-bookings/internal/adapters/mongo"
	"github.com/robertarktes/traveland-bookings/internal/adapters/postgres"
	redisadapter "github.com/robertarktes/traveland-bookings/internal/adapters/redis"
	"github.com/robertarktes/traveland-bookings/internal/booking"
	"github.com/robertarktes/traveland-bookings/internal/config"
	httphandler "github.com/robertarktes/traveland-bookings/internal/http"
	"github.com/robertarktes/traveland-bookings/internal/idempotency"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"github.com/robertarktes/traveland-bookings/internal/rateLimit"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.ValidateAPI(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("invalid DATABASE_URL: %v", err)
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
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
		audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
		if err := audit.EnsureIndexes(ctx); err != nil {
			logger.WithError(err).Warn("audit indexes")
		}
		opts = append(opts, booking.WithAuditor(audit))
	}

	coord := booking.NewCoordinator(repo, booking.Stores{
		Catalog:   postgres.NewCatalog(pool),
		Inventory: postgres.NewInventory(pool),
		Bookings:  postgres.NewBookingLedger(pool),
		Payments:  postgres.NewPaymentLedger(pool),
		Outbox:    postgres.NewOutbox(pool),
	}, logger, opts...)

	var (
		cache *redisadapter.Cache
		rl    *rateLimit.RateLimiter
		idemp *idempotency.Idempotency
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cache = redisadapter.NewCache(redisClient)
		rl = rateLimit.NewRateLimiter(cache)
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
	}

	handlers := httphandler.NewHandlers(cfg, coord, cache, repo, logger)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("api stopped")
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
