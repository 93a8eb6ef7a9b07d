package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/traveland-bookings/internal/adapters/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type cachedPackage struct {
	Title string `json:"title"`
	Slots int    `json:"slots"`
}

func TestCache_JSONRoundTripAndInvalidate(t *testing.T) {
	mr, client := newClient(t)
	cache := redisadapter.NewCache(client)
	ctx := context.Background()
	key := redisadapter.PackageKey(uuid.New())

	var got cachedPackage
	hit, err := cache.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.SetJSON(ctx, key, cachedPackage{Title: "Bali", Slots: 4}, time.Minute))
	hit, err = cache.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, cachedPackage{Title: "Bali", Slots: 4}, got)

	mr.FastForward(2 * time.Minute)
	hit, err = cache.GetJSON(ctx, key, &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, cache.SetJSON(ctx, key, cachedPackage{Title: "Bali"}, time.Minute))
	require.NoError(t, cache.Invalidate(ctx, key))
	assert.False(t, mr.Exists(key))
	require.NoError(t, cache.Invalidate(ctx))
}

func TestIdempotency_ReserveOnce(t *testing.T) {
	_, client := newClient(t)
	idem := redisadapter.NewIdempotency(client)
	ctx := context.Background()

	ok, err := idem.Reserve(ctx, "u1:key", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = idem.Reserve(ctx, "u1:key", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := idem.Get(ctx, "u1:key")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.InFlight)

	require.NoError(t, idem.Set(ctx, "u1:key", redisadapter.IdempResponse{Status: 201, Result: []byte(`{"ok":true}`)}, time.Hour))
	stored, err = idem.Get(ctx, "u1:key")
	require.NoError(t, err)
	assert.False(t, stored.InFlight)
	assert.Equal(t, 201, stored.Status)
	assert.JSONEq(t, `{"ok":true}`, string(stored.Result))

	require.NoError(t, idem.Release(ctx, "u1:key"))
	stored, err = idem.Get(ctx, "u1:key")
	require.NoError(t, err)
	assert.Nil(t, stored)
}
