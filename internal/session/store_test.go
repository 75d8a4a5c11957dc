package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/brizzai/token-relay/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	values := Values{"user_id": "user42"}
	require.NoError(t, store.Set(ctx, "sid-1", values, time.Minute))

	// the store must not alias the caller's map
	values["user_id"] = "mutated"

	got, err := store.Get(ctx, "sid-1")
	require.NoError(t, err)
	assert.Equal(t, Values{"user_id": "user42"}, got)

	require.NoError(t, store.Delete(ctx, "sid-1"))
	_, err = store.Get(ctx, "sid-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.Set(ctx, "sid-2", Values{"user_id": "user43"}, 50*time.Millisecond))
	assert.Eventually(t, func() bool {
		_, err := store.Get(ctx, "sid-2")
		return err == ErrNotFound
	}, 3*time.Second, 20*time.Millisecond)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore(time.Minute)
	defer store.Close()
	exerciseStore(t, store)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TOKEN_RELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TOKEN_RELAY_TEST_REDIS_ADDR not set")
	}

	store, err := ConnectRedis(&config.RedisConfig{Addr: addr, Prefix: "token-relay-test"})
	require.NoError(t, err)
	defer store.Close()
	exerciseStore(t, store)
}

func TestConnectRedis_Unreachable(t *testing.T) {
	_, err := ConnectRedis(&config.RedisConfig{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}
