//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	mongoadapter "github.com/robertarktes/traveland-bookings/internal/adapters/mongo"
	"github.com/robertarktes/traveland-bookings/internal/adapters/postgres"
	"github.com/robertarktes/traveland-bookings/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/traveland-bookings/internal/adapters/redis"
	"github.com/robertarktes/traveland-bookings/internal/booking"
	"github.com/robertarktes/traveland-bookings/internal/config"
	httphandler "github.com/robertarktes/traveland-bookings/internal/http"
	"github.com/robertarktes/traveland-bookings/internal/idempotency"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"github.com/robertarktes/traveland-bookings/internal/outbox"
	"github.com/robertarktes/traveland-bookings/internal/rateLimit"
	"github.com/robertarktes/traveland-bookings/migrations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const jwtSecret = "integration-secret"

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(ctx) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	require.NoError(t, err)
	return host + ":" + mapped.Port()
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func call(t *testing.T, srv *httptest.Server, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Idempotency-Key", uuid.NewString())

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func TestIntegration_BookPayPublish(t *testing.T) {
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("traveland"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, migrations.Up(dsn))

	mongoAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForLog("Waiting for connections"),
	}, "27017")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")
	rabbitAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp", "15672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(90 * time.Second),
	}, "5672")

	cfg := &config.Config{
		AppEnv:          "development",
		DatabaseURL:     dsn,
		MongoURI:        "mongodb://" + mongoAddr,
		MongoDB:         "traveland",
		RedisAddr:       redisAddr,
		RabbitURL:       "amqp://guest:guest@" + rabbitAddr + "/",
		JWTSecret:       jwtSecret,
		DefaultCurrency: "EUR",
		PackageCacheTTL: time.Minute,
		IdempotencyTTL:  time.Hour,
		RateLimitUser:   100,
		RateLimitIP:     100,
	}
	logger := observability.NewNopLogger()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	repo := postgres.NewRepository(pool)

	userID, pkgID, destID := uuid.New(), uuid.New(), uuid.New()
	_, err = pool.Exec(ctx, `INSERT INTO users (id, full_name, email) VALUES ($1, 'Dana', 'dana@example.com')`, userID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO destinations (id, name, country) VALUES ($1, 'Hallstatt', 'Austria')`, destID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO packages (id, destination_id, title, price_per_person) VALUES ($1, $2, 'Alpine Lakes', 310)`, pkgID, destID)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO package_availability (package_id, available_date, available_slots) VALUES ($1, '2030-01-10', 6)`, pkgID)
	require.NoError(t, err)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	require.NoError(t, err)
	t.Cleanup(func() { _ = mongoClient.Disconnect(ctx) })
	audit := mongoadapter.NewAuditLogger(mongoClient.Database(cfg.MongoDB), logger)
	require.NoError(t, audit.EnsureIndexes(ctx))

	coord := booking.NewCoordinator(repo, booking.Stores{
		Catalog:   postgres.NewCatalog(pool),
		Inventory: postgres.NewInventory(pool),
		Bookings:  postgres.NewBookingLedger(pool),
		Payments:  postgres.NewPaymentLedger(pool),
		Outbox:    postgres.NewOutbox(pool),
	}, logger, booking.WithCurrency(cfg.DefaultCurrency), booking.WithAuditor(audit))

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	t.Cleanup(func() { _ = redisClient.Close() })
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)

	handlers := httphandler.NewHandlers(cfg, coord, cache, repo, logger)
	srv := httptest.NewServer(httphandler.SetupRouter(handlers, logger, rateLimit.NewRateLimiter(cache), idemp))
	t.Cleanup(srv.Close)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rabbitConn.Close() })
	rabbitPub, err := rabbit.NewPublisher(rabbitConn)
	require.NoError(t, err)
	consumer, err := rabbit.NewConsumer(rabbitConn, "it.events", 10, "booking.*", "payment.*")
	require.NoError(t, err)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, httphandler.Claims{
		ID:    userID.String(),
		Email: "dana@example.com",
		Role:  "user",
	}).SignedString([]byte(jwtSecret))
	require.NoError(t, err)

	status, env := call(t, srv, http.MethodPost, "/v1/bookings", token, map[string]interface{}{
		"package_id":  pkgID.String(),
		"guests":      2,
		"travel_date": "2030-01-10",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	var created struct {
		ID         uuid.UUID `json:"id"`
		TotalPrice string    `json:"total_price"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &created))
	assert.Equal(t, "620", created.TotalPrice)

	status, env = call(t, srv, http.MethodPost, "/v1/payments", token, map[string]string{"booking_id": created.ID.String()})
	require.Equal(t, http.StatusOK, status, env.Message)
	var paid struct {
		Status   string `json:"status"`
		Currency string `json:"currency"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.Equal(t, "completed", paid.Status)
	assert.Equal(t, "EUR", paid.Currency)

	status, env = call(t, srv, http.MethodGet, "/v1/bookings/"+created.ID.String(), token, nil)
	require.Equal(t, http.StatusOK, status)
	var got struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "confirmed", got.Status)

	n, err := outbox.NewPublisher(repo, postgres.NewOutbox(pool), rabbitPub, logger, time.Second, 10).PublishBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	consumeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	deliveries, err := consumer.Consume(consumeCtx)
	require.NoError(t, err)
	var types []string
	for len(types) < 3 {
		select {
		case d := <-deliveries:
			types = append(types, d.Type)
			require.NoError(t, d.Ack(false))
		case <-consumeCtx.Done():
			t.Fatalf("received only %v", types)
		}
	}
	assert.ElementsMatch(t, []string{"booking.created", "payment.completed", "booking.confirmed"}, types)

	logs, err := audit.ForBooking(ctx, created.ID)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, l := range logs {
		actions = append(actions, l.Action)
	}
	assert.ElementsMatch(t, []string{"booking.created", "payment.completed"}, actions)
}
