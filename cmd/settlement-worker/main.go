package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/traveland-bookings/internal/adapters/mongo"
	"github.com/robertarktes/traveland-bookings/internal/adapters/postgres"
	"github.com/robertarktes/traveland-bookings/internal/adapters/rabbit"
	"github.com/robertarktes/traveland-bookings/internal/booking"
	"github.com/robertarktes/traveland-bookings/internal/config"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"github.com/robertarktes/traveland-bookings/internal/settlement"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const prefetch = 16

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "settlement-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

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

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, cfg.SettlementQueue, prefetch)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume %s: %v", cfg.SettlementQueue, err)
	}

	logger.WithField("queue", cfg.SettlementQueue).Info("settlement worker started")
	if err := settlement.NewHandler(coord, logger).Run(ctx, deliveries); err != nil {
		logger.WithError(err).Error("settlement worker stopped")
		return
	}
	logger.Info("Shutdown settlement worker")
}
