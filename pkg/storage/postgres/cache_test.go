package postgres

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage/memory"
)

// countingBackend counts single-entity reads that reach the backend
type countingBackend struct {
	*memory.Store
	roleReads     atomic.Int32
	resourceReads atomic.Int32
}

func (b *countingBackend) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	b.roleReads.Add(1)
	return b.Store.GetRole(ctx, id)
}

func (b *countingBackend) GetResources(ctx context.Context, ids []string) ([]*rbac.Resource, error) {
	b.resourceReads.Add(int32(len(ids)))
	return b.Store.GetResources(ctx, ids)
}

func (b *countingBackend) GetResource(ctx context.Context, id string) (*rbac.Resource, error) {
	b.resourceReads.Add(1)
	return b.Store.GetResource(ctx, id)
}

// stallingBackend parks the next GetRole after it has read the row, until
// release is closed
type stallingBackend struct {
	*memory.Store
	stall   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func (b *stallingBackend) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	role, err := b.Store.GetRole(ctx, id)
	if b.stall.CompareAndSwap(true, false) {
		close(b.loaded)
		<-b.release
	}
	return role, err
}

func setupTestCache(t *testing.T) (*RedisCache, *countingBackend, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backend := &countingBackend{Store: memory.New()}
	cache := NewRedisCache(backend, NewRedisClientFromClient(client), map[string]time.Duration{
		CacheRole: time.Minute,
	}, testLogger())
	return cache, backend, mr
}

func seedRole(t *testing.T, store rbac.RoleStore, id string) *rbac.Role {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Second)
	role := &rbac.Role{
		ID: id, Name: "Role " + id, Slug: "role-" + id, Status: rbac.StatusActive, Description: "d",
		Grants:    []rbac.Grant{{ResourceID: "res-1", Actions: []rbac.Action{rbac.ActionReadAny}}},
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.CreateRole(context.Background(), role))
	return role
}

func TestRedisCache_GetRole(t *testing.T) {
	ctx := context.Background()
	cache, backend, mr := setupTestCache(t)
	want := seedRole(t, cache, "r1")

	got, err := cache.GetRole(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.True(t, mr.Exists("gatehouse:role:r1"))
	assert.Equal(t, time.Minute, mr.TTL("gatehouse:role:r1"))

	got, err = cache.GetRole(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(1), backend.roleReads.Load(), "second read should be served from redis")

	mr.FastForward(2 * time.Minute)
	_, err = cache.GetRole(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.roleReads.Load(), "expired entry should reload")
}

func TestRedisCache_MissingRoleNotCached(t *testing.T) {
	cache, _, mr := setupTestCache(t)

	_, err := cache.GetRole(context.Background(), "nope")
	assert.ErrorIs(t, err, rbac.ErrNotFound)
	assert.False(t, mr.Exists("gatehouse:role:nope"))
}

func TestRedisCache_InvalidatesOnMutation(t *testing.T) {
	ctx := context.Background()
	cache, backend, mr := setupTestCache(t)
	role := seedRole(t, cache, "r1")

	_, err := cache.GetRole(ctx, "r1")
	require.NoError(t, err)
	require.True(t, mr.Exists("gatehouse:role:r1"))

	role.Description = "changed"
	require.NoError(t, cache.UpdateRole(ctx, role))
	assert.False(t, mr.Exists("gatehouse:role:r1"))

	got, err := cache.GetRole(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.Description)
	assert.Equal(t, int32(2), backend.roleReads.Load())

	require.NoError(t, cache.DeleteRole(ctx, "r1"))
	assert.False(t, mr.Exists("gatehouse:role:r1"))
	_, err = cache.GetRole(ctx, "r1")
	assert.ErrorIs(t, err, rbac.ErrNotFound)
}

func TestRedisCache_FailedWriteKeepsEntry(t *testing.T) {
	ctx := context.Background()
	cache, _, mr := setupTestCache(t)
	seedRole(t, cache, "r1")
	other := seedRole(t, cache, "r2")

	_, err := cache.GetRole(ctx, "r2")
	require.NoError(t, err)

	other.Slug = "role-r1"
	assert.ErrorIs(t, cache.UpdateRole(ctx, other), rbac.ErrConflict)
	assert.True(t, mr.Exists("gatehouse:role:r2"), "a rejected write changes nothing")
}

func TestRedisCache_GetResources(t *testing.T) {
	ctx := context.Background()
	cache, backend, mr := setupTestCache(t)
	now := time.Now().UTC().Truncate(time.Second)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, cache.CreateResource(ctx, &rbac.Resource{ID: id, Name: id, Slug: id, CreatedAt: now, UpdatedAt: now}))
	}

	_, err := cache.GetResource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int32(1), backend.resourceReads.Load())
	assert.Equal(t, 15*time.Minute, mr.TTL("gatehouse:resource:a"), "default TTL applies when not configured")

	resources, err := cache.GetResources(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Len(t, resources, 2)
	assert.Equal(t, int32(3), backend.resourceReads.Load(), "only b and missing reach the backend")

	resources, err = cache.GetResources(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, resources, 2)
	assert.Equal(t, int32(3), backend.resourceReads.Load())

	require.NoError(t, cache.DeleteResource(ctx, "b"))
	assert.False(t, mr.Exists("gatehouse:resource:b"))
	resources, err = cache.GetResources(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, resources, 1)
}

func TestRedisCache_RedisDownFallsBack(t *testing.T) {
	ctx := context.Background()
	cache, backend, mr := setupTestCache(t)
	seedRole(t, cache, "r1")

	mr.Close()

	got, err := cache.GetRole(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, int32(1), backend.roleReads.Load())
}

func TestRedisCache_CorruptEntryIsDropped(t *testing.T) {
	ctx := context.Background()
	cache, backend, mr := setupTestCache(t)
	seedRole(t, cache, "r1")

	require.NoError(t, mr.Set("gatehouse:role:r1", "{garbage"))

	got, err := cache.GetRole(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", got.ID)
	assert.Equal(t, int32(1), backend.roleReads.Load())
}

func TestRedisCache_InvalidateAll(t *testing.T) {
	ctx := context.Background()
	cache, _, mr := setupTestCache(t)
	seedRole(t, cache, "r1")
	seedRole(t, cache, "r2")
	_, _ = cache.GetRole(ctx, "r1")
	_, _ = cache.GetRole(ctx, "r2")
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, cache.InvalidateAll(ctx))
	assert.False(t, mr.Exists("gatehouse:role:r1"))
	assert.False(t, mr.Exists("gatehouse:role:r2"))
	assert.True(t, mr.Exists("unrelated"))
}

func TestRedisCache_Metrics(t *testing.T) {
	ctx := context.Background()
	cache, _, _ := setupTestCache(t)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cache.SetMetrics(metrics)
	seedRole(t, cache, "r1")

	_, err := cache.GetRole(ctx, "r1")
	require.NoError(t, err)
	_, err = cache.GetRole(ctx, "r1")
	require.NoError(t, err)
}

func TestRedisCache_StaleLoadDoesNotRefill(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	backend := &stallingBackend{Store: memory.New(), loaded: make(chan struct{}), release: make(chan struct{})}
	cache := NewRedisCache(backend, NewRedisClientFromClient(client), nil, testLogger())
	svc := rbac.NewService(cache, cache)

	now := time.Now().UTC()
	for _, id := range []string{"res-a", "res-b"} {
		require.NoError(t, cache.CreateResource(ctx, &rbac.Resource{ID: id, Name: id, Slug: id, CreatedAt: now, UpdatedAt: now}))
	}
	seedRole(t, cache, "r1")

	backend.stall.Store(true)
	staleRead := make(chan error, 1)
	go func() {
		_, err := cache.GetRole(ctx, "r1")
		staleRead <- err
	}()
	<-backend.loaded

	_, err := svc.AddGrants(ctx, "r1", rbac.GrantsInput{Grants: []rbac.GrantInput{{ResourceID: "res-a", Actions: []string{"read.any"}}}})
	require.NoError(t, err)

	close(backend.release)
	require.NoError(t, <-staleRead)
	assert.False(t, mr.Exists("gatehouse:role:r1"), "a load that raced a write must not be cached")

	_, err = svc.AddGrants(ctx, "r1", rbac.GrantsInput{Grants: []rbac.GrantInput{{ResourceID: "res-b", Actions: []string{"read.any"}}}})
	require.NoError(t, err)

	stored, err := backend.Store.GetRole(ctx, "r1")
	require.NoError(t, err)
	var ids []string
	for _, g := range stored.Grants {
		ids = append(ids, g.ResourceID)
	}
	assert.ElementsMatch(t, []string{"res-1", "res-a", "res-b"}, ids)

	got, err := cache.GetRole(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, got.Grants, 3)
	assert.True(t, mr.Exists("gatehouse:role:r1"))
	assert.Equal(t, "3", mustGet(t, mr, "gatehouse:gen:role:r1"), "create and two updates")
}

func TestRedisCache_GetRoleForUpdateSkipsCache(t *testing.T) {
	ctx := context.Background()
	cache, backend, mr := setupTestCache(t)
	seedRole(t, cache, "r1")

	require.NoError(t, mr.Set("gatehouse:role:r1", `{"id":"r1","name":"stale"}`))

	got, err := cache.GetRoleForUpdate(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "Role r1", got.Name)
	assert.Equal(t, int32(0), backend.roleReads.Load())
	assert.Equal(t, `{"id":"r1","name":"stale"}`, mustGet(t, mr, "gatehouse:role:r1"), "update reads never fill")
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}
