package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	redisadapter "github.com/robertarktes/traveland-bookings/internal/adapters/redis"
)

// MinKeyLength is the shortest Idempotency-Key accepted.
const MinKeyLength = 16

type Idempotency struct {
	redis *redisadapter.Idempotency
	ttl   time.Duration
}

func NewIdempotency(redis *redisadapter.Idempotency, ttl time.Duration) *Idempotency {
	return &Idempotency{redis: redis, ttl: ttl}
}

type Response struct {
	Status      int
	Result      []byte
	RequestHash string
}

// Fingerprint hashes a request body so a replay can be matched to the
// request that produced it.
func Fingerprint(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SameRequest reports whether hash matches the stored fingerprint. Responses
// stored without one match any request.
func (r *Response) SameRequest(hash string) bool {
	return r.RequestHash == "" || r.RequestHash == hash
}

type State int

const (
	// Fresh means the caller now owns the key and must Complete or Abandon it.
	Fresh State = iota
	// Replay means a finished response is stored for the key.
	Replay
	// InFlight means another request holds the key and has not finished.
	InFlight
)

func scoped(scope, key string) string {
	return scope + ":" + key
}

// Begin claims key within scope, or returns the stored response for it.
func (i *Idempotency) Begin(ctx context.Context, scope, key string) (State, *Response, error) {
	ok, err := i.redis.Reserve(ctx, scoped(scope, key), i.ttl)
	if err != nil {
		return Fresh, nil, err
	}
	if ok {
		return Fresh, nil, nil
	}

	stored, err := i.redis.Get(ctx, scoped(scope, key))
	if err != nil {
		return Fresh, nil, err
	}
	if stored == nil {
		// Expired between the two calls; try once more.
		ok, err := i.redis.Reserve(ctx, scoped(scope, key), i.ttl)
		if err != nil {
			return Fresh, nil, err
		}
		if ok {
			return Fresh, nil, nil
		}
		return InFlight, nil, nil
	}
	if stored.InFlight {
		return InFlight, nil, nil
	}
	return Replay, &Response{Status: stored.Status, Result: stored.Result, RequestHash: stored.RequestHash}, nil
}

func (i *Idempotency) Complete(ctx context.Context, scope, key string, resp Response) error {
	return i.redis.Set(ctx, scoped(scope, key), redisadapter.IdempResponse{Status: resp.Status, Result: resp.Result, RequestHash: resp.RequestHash}, i.ttl)
}

// Abandon frees key so the client may retry with it.
func (i *Idempotency) Abandon(ctx context.Context, scope, key string) error {
	return i.redis.Release(ctx, scoped(scope, key))
}
