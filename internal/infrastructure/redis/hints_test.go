package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestHintStoreRememberRecall(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	store := NewHintStore(client, Options{TTL: time.Hour})

	id, err := store.Recall(ctx, "session-1")
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, store.Remember(ctx, "session-1", "app-1"))
	id, err = store.Recall(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "app-1", id)

	assert.True(t, mr.Exists(defaultKeyPrefix+"session-1"))
	assert.Equal(t, time.Hour, mr.TTL(defaultKeyPrefix+"session-1"))
	require.NoError(t, store.Ping(ctx))
}

func TestHintStoreExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	store := NewHintStore(client, Options{KeyPrefix: "t:", TTL: time.Minute})

	require.NoError(t, store.Remember(ctx, "s", "app-1"))
	mr.FastForward(2 * time.Minute)

	id, err := store.Recall(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestHintStoreIgnoresBlankKeys(t *testing.T) {
	ctx := context.Background()
	mr, client := setupRedis(t)
	store := NewHintStore(client, Options{})

	require.NoError(t, store.Remember(ctx, " ", "app-1"))
	assert.Empty(t, mr.Keys())
}

func TestHintStoreSurfacesConnectionErrors(t *testing.T) {
	mr, client := setupRedis(t)
	store := NewHintStore(client, Options{})
	mr.Close()

	_, err := store.Recall(context.Background(), "s")
	assert.Error(t, err)
}
