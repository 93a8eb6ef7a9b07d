package main

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	redisclient "github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/traveland-bookings/internal/adapters/redis"
	"github.com/robertarktes/traveland-bookings/internal/domain"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedExpirer struct {
	calls   int
	batches [][]domain.Booking
	errs    []error
	ttl     time.Duration
}

func (s *scriptedExpirer) ExpireStalePending(_ context.Context, ttl time.Duration, limit int) ([]domain.Booking, error) {
	s.ttl = ttl
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i < len(s.batches) {
		return s.batches[i], nil
	}
	return nil, nil
}

func newWorker(t *testing.T, svc Expirer) (*ExpiryWorker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redisclient.NewClient(&redisclient.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	w := NewExpiryWorker(svc, redisadapter.NewCache(client), observability.NewNopLogger(), 30*time.Minute)
	w.backoff = func(int) time.Duration { return time.Millisecond }
	return w, mr
}

func TestSweep_InvalidatesExpiredPackages(t *testing.T) {
	pkgA, pkgB, untouched := uuid.New(), uuid.New(), uuid.New()
	svc := &scriptedExpirer{batches: [][]domain.Booking{{
		{ID: uuid.New(), PackageID: pkgA},
		{ID: uuid.New(), PackageID: pkgA},
		{ID: uuid.New(), PackageID: pkgB},
	}}}
	w, mr := newWorker(t, svc)
	for _, id := range []uuid.UUID{pkgA, pkgB, untouched} {
		require.NoError(t, mr.Set(redisadapter.PackageKey(id), "{}"))
	}

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 30*time.Minute, svc.ttl)
	assert.False(t, mr.Exists(redisadapter.PackageKey(pkgA)))
	assert.False(t, mr.Exists(redisadapter.PackageKey(pkgB)))
	assert.True(t, mr.Exists(redisadapter.PackageKey(untouched)))
}

func TestSweep_DrainsFullBatches(t *testing.T) {
	full := make([]domain.Booking, sweepBatch)
	for i := range full {
		full[i] = domain.Booking{ID: uuid.New(), PackageID: uuid.New()}
	}
	svc := &scriptedExpirer{batches: [][]domain.Booking{full, {{ID: uuid.New()}}}}
	w, _ := newWorker(t, svc)

	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sweepBatch+1, n)
	assert.Equal(t, 2, svc.calls)
}

func TestSweep_RetriesThenGivesUp(t *testing.T) {
	boom := errors.New("connection refused")

	svc := &scriptedExpirer{errs: []error{boom, boom}, batches: [][]domain.Booking{nil, nil, {{ID: uuid.New()}}}}
	w, _ := newWorker(t, svc)
	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, svc.calls)

	svc = &scriptedExpirer{errs: []error{boom, boom, boom}}
	w, _ = newWorker(t, svc)
	_, err = w.Sweep(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, 3, svc.calls)
}

func TestSweep_NilCache(t *testing.T) {
	svc := &scriptedExpirer{batches: [][]domain.Booking{{{ID: uuid.New(), PackageID: uuid.New()}}}}
	w := NewExpiryWorker(svc, nil, observability.NewNopLogger(), time.Minute)
	n, err := w.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
