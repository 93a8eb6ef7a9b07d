package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	HTTPAddr string

	DatabaseURL string
	DBMaxConns  int32
	DBTxTimeout time.Duration
	DBIsolation string

	MongoURI  string
	MongoDB   string
	RedisAddr string
	RabbitURL string
	JWTSecret string

	DefaultCurrency   string
	PendingBookingTTL time.Duration
	ExpiryInterval    time.Duration
	IdempotencyTTL    time.Duration
	PackageCacheTTL   time.Duration
	RateLimitUser     int
	RateLimitIP       int
	OutboxInterval    time.Duration
	OutboxBatch       int
	SettlementQueue   string

	OTLPEndpoint string
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// ValidateAPI checks settings only the HTTP API needs. Outside development
// an empty JWT_SECRET is refused, since tokens signed with an empty key
// would verify.
func (c *Config) ValidateAPI() error {
	if c.JWTSecret == "" && !c.IsDevelopment() {
		return errors.New("config: JWT_SECRET is required")
	}
	return nil
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	l := loader{}
	cfg := &Config{
		AppEnv:   l.str("APP_ENV", "production"),
		HTTPAddr: l.str("HTTP_ADDR", ":8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		DBMaxConns:  int32(l.integer("DB_MAX_CONNS", 10)),
		DBTxTimeout: l.duration("DB_TX_TIMEOUT", 5*time.Second),
		DBIsolation: strings.ToLower(l.str("DB_ISOLATION", "read committed")),

		MongoURI:  os.Getenv("MONGO_URI"),
		MongoDB:   l.str("MONGO_DB", "traveland"),
		RedisAddr: os.Getenv("REDIS_ADDR"),
		RabbitURL: os.Getenv("RABBIT_URL"),
		JWTSecret: os.Getenv("JWT_SECRET"),

		DefaultCurrency:   l.str("DEFAULT_CURRENCY", "USD"),
		PendingBookingTTL: l.duration("PENDING_BOOKING_TTL", 30*time.Minute),
		ExpiryInterval:    l.duration("EXPIRY_INTERVAL", time.Minute),
		IdempotencyTTL:    l.duration("IDEMPOTENCY_TTL", 24*time.Hour),
		PackageCacheTTL:   l.duration("PACKAGE_CACHE_TTL", 30*time.Second),
		RateLimitUser:     l.integer("RATE_LIMIT_USER", 10),
		RateLimitIP:       l.integer("RATE_LIMIT_IP", 100),
		OutboxInterval:    l.duration("OUTBOX_INTERVAL", 5*time.Second),
		OutboxBatch:       l.integer("OUTBOX_BATCH", 50),
		SettlementQueue:   l.str("SETTLEMENT_QUEUE", "traveland.payments.settlement"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if l.err != nil {
		return nil, l.err
	}

	switch cfg.DBIsolation {
	case "read committed", "repeatable read", "serializable":
	default:
		return nil, errors.Newf("config: unsupported DB_ISOLATION %q", cfg.DBIsolation)
	}
	if cfg.DBTxTimeout <= 0 {
		return nil, errors.New("config: DB_TX_TIMEOUT must be positive")
	}

	return cfg, nil
}

// loader keeps the first parse error so Load can report it once.
type loader struct {
	err error
}

func (l *loader) str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (l *loader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.fail(errors.Wrapf(err, "config: parse %s", key))
		return def
	}
	return d
}

func (l *loader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.fail(errors.Wrapf(err, "config: parse %s", key))
		return def
	}
	return n
}

func (l *loader) fail(err error) {
	if l.err == nil {
		l.err = err
	}
}
