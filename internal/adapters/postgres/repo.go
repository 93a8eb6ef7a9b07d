package postgres

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/robertarktes/traveland-bookings/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	DeadlockDetectedCode     = "40P01"
	QueryCanceledCode        = "57014"
	LockNotAvailableCode     = "55P03"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx. Ledger methods take one so
// they can run inside a caller's unit of work; a nil DBTX routes the call to
// the ledger's own pool.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool      *pgxpool.Pool
	isoLevel  pgx.TxIsoLevel
	txTimeout time.Duration
}

type Option func(*Repository)

func WithIsolation(level string) Option {
	return func(r *Repository) {
		switch level {
		case "serializable":
			r.isoLevel = pgx.Serializable
		case "repeatable read":
			r.isoLevel = pgx.RepeatableRead
		default:
			r.isoLevel = pgx.ReadCommitted
		}
	}
}

func WithTxTimeout(d time.Duration) Option {
	return func(r *Repository) {
		if d > 0 {
			r.txTimeout = d
		}
	}
}

func NewRepository(pool *pgxpool.Pool, opts ...Option) *Repository {
	r := &Repository{pool: pool, isoLevel: pgx.ReadCommitted, txTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in one transaction. The transaction is detached from the
// caller's cancellation and bounded by the repository timeout, so it always
// ends in a commit or a full rollback.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.txTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: r.isoLevel})
	if err != nil {
		return classify(errors.Wrap(err, "begin tx"))
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(errors.Wrap(err, "commit tx"))
	}
	return nil
}

// classify maps retryable storage failures onto domain kinds and leaves
// everything else untouched.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case SerializationFailureCode, DeadlockDetectedCode:
			return errors.Mark(err, domain.ErrSerializationFailure)
		case QueryCanceledCode, LockNotAvailableCode:
			return errors.Mark(err, domain.ErrTimeout)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return errors.Mark(err, domain.ErrTimeout)
	}
	return err
}

func pick(q, fallback DBTX) DBTX {
	if q == nil {
		return fallback
	}
	return q
}
