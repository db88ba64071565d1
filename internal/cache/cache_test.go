package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseClient(t *testing.T, c Client) {
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))

	val := []byte(`{"issuer":"https://login.example.com"}`)
	require.NoError(t, c.Set(ctx, "discovery", val, time.Minute))
	val[0] = 'X' // el cache guarda su propia copia

	got, err := c.Get(ctx, "discovery")
	require.NoError(t, err)
	assert.Equal(t, `{"issuer":"https://login.example.com"}`, string(got))

	require.NoError(t, c.Delete(ctx, "discovery"))
	require.NoError(t, c.Delete(ctx, "discovery"))
	_, err = c.Get(ctx, "discovery")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, c.Ping(ctx))
}

func TestMemoryClient(t *testing.T) {
	c, err := New(context.Background(), Config{Kind: "memory"})
	require.NoError(t, err)
	defer c.Close()
	exerciseClient(t, c)
}

func TestMemoryClient_Expires(t *testing.T) {
	c := NewMemory(0)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []byte("v"), 20*time.Millisecond))
	time.Sleep(50 * time.Millisecond)
	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(context.Background(), Config{Kind: "memcached"})
	assert.Error(t, err)
}

func TestRedisClient(t *testing.T) {
	addr := os.Getenv("JOHNID_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("JOHNID_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), Config{Kind: "redis", Redis: RedisConfig{Addr: addr, Prefix: "johnid-test"}})
	require.NoError(t, err)
	defer c.Close()
	exerciseClient(t, c)
}
