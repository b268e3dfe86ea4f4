package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"usersvc/internal/config"
)

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	v, err := m.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, m.Set(ctx, "user:1", []byte("payload"), 0))
	v, err = m.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), v)

	require.NoError(t, m.Delete(ctx, "user:1"))
	v, err = m.Get(ctx, "user:1")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestClient_FailsSafe(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// nothing listens on port 1
	c := New("127.0.0.1:1", "", 0)
	defer c.Close()

	assert.Error(t, c.Ping(ctx))
	v, err := c.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, v)
	assert.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	assert.NoError(t, c.Delete(ctx, "k"))

	var nilClient *Client
	v, err = nilClient.Get(ctx, "k")
	assert.NoError(t, err)
	assert.Nil(t, v)
}

func TestNop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Nop{}
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	v, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestOpen(t *testing.T) {
	tests := []struct {
		driver string
		want   Cache
	}{
		{driver: config.CacheMemory, want: &Memory{}},
		{driver: config.CacheNone, want: Nop{}},
		{driver: config.CacheRedis, want: &Client{}},
	}
	for _, tt := range tests {
		t.Run(tt.driver, func(t *testing.T) {
			cfg := config.Default()
			cfg.CacheDriver = tt.driver
			cfg.RedisAddr = "127.0.0.1:1"

			c, closeFn := Open(context.Background(), cfg, zap.NewNop())
			defer closeFn()
			assert.IsType(t, tt.want, c)
		})
	}
}
