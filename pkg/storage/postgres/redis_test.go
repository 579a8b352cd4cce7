package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := NewRedisClientFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { client.Close() })
	return client, mr
}

type cachedThing struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestNewRedisClient(t *testing.T) {
	t.Run("invalid URL", func(t *testing.T) {
		client, err := NewRedisClient(RedisConfig{URL: "not-a-url"})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "invalid redis URL")
	})

	t.Run("connects", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewRedisClient(RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 4, MaxRetries: 1})
		require.NoError(t, err)
		defer client.Close()

		assert.NoError(t, client.Ping(context.Background()))
		assert.NotNil(t, client.GetClient())
		assert.NotNil(t, client.GetPoolStats())
	})

	t.Run("unreachable", func(t *testing.T) {
		mr := miniredis.RunT(t)
		addr := mr.Addr()
		mr.Close()

		client, err := NewRedisClient(RedisConfig{URL: "redis://" + addr})
		assert.Error(t, err)
		assert.Nil(t, client)
	})
}

func TestRedisClient_JSON(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	var got cachedThing
	hit, err := client.GetJSON(ctx, "missing", &got)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, client.SetJSON(ctx, "thing", cachedThing{Name: "editor", Count: 3}, 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("thing"))

	hit, err = client.GetJSON(ctx, "thing", &got)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, cachedThing{Name: "editor", Count: 3}, got)

	require.NoError(t, mr.Set("corrupt", "not json"))
	hit, err = client.GetJSON(ctx, "corrupt", &got)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.False(t, mr.Exists("corrupt"), "undecodable values are dropped")
}

func TestRedisClient_MGetJSON(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	require.NoError(t, client.SetJSON(ctx, "a", cachedThing{Name: "a"}, time.Minute))
	require.NoError(t, client.SetJSON(ctx, "c", cachedThing{Name: "c"}, time.Minute))
	require.NoError(t, mr.Set("bad", "{"))

	found := map[int]string{}
	err := client.MGetJSON(ctx, []string{"a", "b", "c", "bad"}, func(i int, data []byte) error {
		var v cachedThing
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		found[i] = v.Name
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{0: "a", 2: "c"}, found)
	assert.False(t, mr.Exists("bad"))

	assert.NoError(t, client.MGetJSON(ctx, nil, nil))
}

func TestRedisClient_DeleteAndInvalidate(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)

	for _, key := range []string{"gatehouse:role:1", "gatehouse:role:2", "gatehouse:resource:1", "other"} {
		require.NoError(t, mr.Set(key, "{}"))
	}

	require.NoError(t, client.Delete(ctx))
	require.NoError(t, client.Delete(ctx, "other"))
	assert.False(t, mr.Exists("other"))

	require.NoError(t, client.InvalidatePatterns(ctx, "gatehouse:role:*"))
	assert.False(t, mr.Exists("gatehouse:role:1"))
	assert.False(t, mr.Exists("gatehouse:role:2"))
	assert.True(t, mr.Exists("gatehouse:resource:1"))
}
