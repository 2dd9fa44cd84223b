package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	c, err := NewRedisCache(context.Background(), RedisConfig{Addr: mr.Addr(), Namespace: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedisCache_GetSetDelete(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("test:k"), "key should carry the namespace prefix")

	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
	require.NoError(t, c.Delete(ctx, "k"))
}

func TestRedisCache_TTL(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 5*time.Minute))
	assert.Equal(t, 5*time.Minute, mr.TTL("test:k"))

	mr.FastForward(6 * time.Minute)
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestRedisCache_ZeroTTLStoresNothing(t *testing.T) {
	c, mr := newTestRedis(t)

	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), 0))
	assert.False(t, mr.Exists("test:k"))
}

func TestRedisCache_Stats(t *testing.T) {
	c, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	c.Get(ctx, "k")
	c.Get(ctx, "missing")

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Sets)
	assert.Zero(t, s.Errors)
}

func TestRedisCache_BackendErrorIsMiss(t *testing.T) {
	c, mr := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))

	mr.SetError("ERR boom")
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Error(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.Equal(t, int64(2), c.Stats().Errors)

	mr.SetError("")
	assert.NoError(t, c.Ping(ctx))
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	_, err := NewRedisCache(context.Background(), RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond})
	assert.Error(t, err)
}

func TestNewRedisCacheFromClient_NoNamespace(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	c := NewRedisCacheFromClient(client, "")
	t.Cleanup(func() { _ = c.Close() })

	require.NoError(t, c.Set(context.Background(), "plain", []byte("v"), time.Minute))
	assert.True(t, mr.Exists("plain"))
}
