package postgres

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// Backend is what RedisCache decorates
type Backend interface {
	rbac.RoleStore
	rbac.ResourceStore
}

// Cache TTL keys
const (
	CacheRole     = "role"
	CacheResource = "resource"
)

const (
	roleKeyPrefix     = "gatehouse:role:"
	resourceKeyPrefix = "gatehouse:resource:"

	// Generation counters live outside the entity prefixes so InvalidateAll
	// never resets them
	generationKeyPrefix = "gatehouse:gen:"
	cacheKeyPrefix      = "gatehouse:"

	// generationTTL outlives any backend read by a wide margin
	generationTTL = 24 * time.Hour
)

// DefaultCacheTTL returns the default TTL per cached entity
func DefaultCacheTTL() map[string]time.Duration {
	return map[string]time.Duration{
		CacheRole:     5 * time.Minute,
		CacheResource: 15 * time.Minute,
	}
}

// RedisCache caches single role and resource reads in Redis. Every
// mutation going through the cache deletes the affected key after the
// backend write succeeds and bumps the key's generation; a fill whose
// backend read started before that bump is dropped. Redis failures are
// logged and fall back to the backend.
type RedisCache struct {
	backend Backend
	redis   *RedisClient
	ttl     map[string]time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
}

var _ Backend = (*RedisCache)(nil)

// NewRedisCache creates a caching decorator around backend. Missing TTL
// entries fall back to DefaultCacheTTL.
func NewRedisCache(backend Backend, client *RedisClient, ttl map[string]time.Duration, logger *observability.Logger) *RedisCache {
	merged := DefaultCacheTTL()
	for k, v := range ttl {
		if v > 0 {
			merged[k] = v
		}
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &RedisCache{
		backend: backend,
		redis:   client,
		ttl:     merged,
		logger:  logger.WithField("component", "redis_cache"),
	}
}

// SetMetrics enables cache hit and miss metrics
func (c *RedisCache) SetMetrics(metrics *observability.Metrics) {
	c.metrics = metrics
}

// ListRoles is not cached
func (c *RedisCache) ListRoles(ctx context.Context, filter rbac.RoleFilter) ([]*rbac.Role, error) {
	return c.backend.ListRoles(ctx, filter)
}

// GetRole returns a role from cache, loading it from the backend on a miss
func (c *RedisCache) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	key := roleKeyPrefix + id

	var cached rbac.Role
	hit, err := c.redis.GetJSON(ctx, key, &cached)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache read failed")
	}
	c.record(CacheRole, hit)
	if hit {
		return &cached, nil
	}

	gen := c.generation(ctx, key)
	role, err := c.backend.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, gen, role, c.ttl[CacheRole])
	return role, nil
}

// GetRoleForUpdate always reads the backend and never fills the cache
func (c *RedisCache) GetRoleForUpdate(ctx context.Context, id string) (*rbac.Role, error) {
	return c.backend.GetRoleForUpdate(ctx, id)
}

// CreateRole writes through and clears any stale entry for the id
func (c *RedisCache) CreateRole(ctx context.Context, role *rbac.Role) error {
	if err := c.backend.CreateRole(ctx, role); err != nil {
		return err
	}
	c.invalidate(ctx, roleKeyPrefix+role.ID)
	return nil
}

// UpdateRole writes through and invalidates the role
func (c *RedisCache) UpdateRole(ctx context.Context, role *rbac.Role) error {
	if err := c.backend.UpdateRole(ctx, role); err != nil {
		return err
	}
	c.invalidate(ctx, roleKeyPrefix+role.ID)
	return nil
}

// DeleteRole deletes and invalidates the role
func (c *RedisCache) DeleteRole(ctx context.Context, id string) error {
	if err := c.backend.DeleteRole(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, roleKeyPrefix+id)
	return nil
}

// ListResources is not cached
func (c *RedisCache) ListResources(ctx context.Context) ([]*rbac.Resource, error) {
	return c.backend.ListResources(ctx)
}

// GetResource returns a resource from cache, loading it on a miss
func (c *RedisCache) GetResource(ctx context.Context, id string) (*rbac.Resource, error) {
	key := resourceKeyPrefix + id

	var cached rbac.Resource
	hit, err := c.redis.GetJSON(ctx, key, &cached)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache read failed")
	}
	c.record(CacheResource, hit)
	if hit {
		return &cached, nil
	}

	gen := c.generation(ctx, key)
	resource, err := c.backend.GetResource(ctx, id)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, key, gen, resource, c.ttl[CacheResource])
	return resource, nil
}

// GetResourceBySlug is not cached
func (c *RedisCache) GetResourceBySlug(ctx context.Context, slug string) (*rbac.Resource, error) {
	return c.backend.GetResourceBySlug(ctx, slug)
}

// GetResources serves what it can from cache with one MGET and loads the
// rest from the backend
func (c *RedisCache) GetResources(ctx context.Context, ids []string) ([]*rbac.Resource, error) {
	if len(ids) == 0 {
		return []*rbac.Resource{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = resourceKeyPrefix + id
	}

	found := make([]*rbac.Resource, len(ids))
	err := c.redis.MGetJSON(ctx, keys, func(i int, data []byte) error {
		var r rbac.Resource
		if err := json.Unmarshal(data, &r); err != nil {
			return err
		}
		found[i] = &r
		return nil
	})
	if err != nil {
		c.logger.WithError(err).Warn("cache read failed")
	}

	var missing []string
	resources := make([]*rbac.Resource, 0, len(ids))
	for i, r := range found {
		c.record(CacheResource, r != nil)
		if r == nil {
			missing = append(missing, ids[i])
			continue
		}
		resources = append(resources, r)
	}

	if len(missing) == 0 {
		return resources, nil
	}

	gens := make(map[string]int64, len(missing))
	for _, id := range missing {
		gens[id] = c.generation(ctx, resourceKeyPrefix+id)
	}
	loaded, err := c.backend.GetResources(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, r := range loaded {
		c.fill(ctx, resourceKeyPrefix+r.ID, gens[r.ID], r, c.ttl[CacheResource])
	}
	return append(resources, loaded...), nil
}

// CreateResource writes through
func (c *RedisCache) CreateResource(ctx context.Context, resource *rbac.Resource) error {
	if err := c.backend.CreateResource(ctx, resource); err != nil {
		return err
	}
	c.invalidate(ctx, resourceKeyPrefix+resource.ID)
	return nil
}

// UpdateResource writes through and invalidates the resource
func (c *RedisCache) UpdateResource(ctx context.Context, resource *rbac.Resource) error {
	if err := c.backend.UpdateResource(ctx, resource); err != nil {
		return err
	}
	c.invalidate(ctx, resourceKeyPrefix+resource.ID)
	return nil
}

// DeleteResource deletes and invalidates the resource
func (c *RedisCache) DeleteResource(ctx context.Context, id string) error {
	if err := c.backend.DeleteResource(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, resourceKeyPrefix+id)
	return nil
}

// InvalidateAll drops every cached role and resource
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	return c.redis.InvalidatePatterns(ctx, roleKeyPrefix+"*", resourceKeyPrefix+"*")
}

// generation reads the counter for key before a backend load. On a Redis
// error it returns -1, which never matches, so the fill is skipped.
func (c *RedisCache) generation(ctx context.Context, key string) int64 {
	gen, err := c.redis.Generation(ctx, generationKey(key))
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache generation read failed")
		return -1
	}
	return gen
}

func (c *RedisCache) fill(ctx context.Context, key string, gen int64, v interface{}, ttl time.Duration) {
	if gen < 0 {
		return
	}
	written, err := c.redis.SetJSONIfGeneration(ctx, key, generationKey(key), gen, v, ttl)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache write failed")
		return
	}
	if !written {
		c.logger.WithField("key", key).Debug("cache fill skipped, entry changed during load")
	}
}

func (c *RedisCache) invalidate(ctx context.Context, key string) {
	if err := c.redis.DeleteAndBump(ctx, key, generationKey(key), generationTTL); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("cache invalidation failed")
	}
}

func (c *RedisCache) record(cache string, hit bool) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup("redis_"+cache, hit)
	}
}

// generationKey maps gatehouse:role:r1 to gatehouse:gen:role:r1
func generationKey(key string) string {
	return generationKeyPrefix + strings.TrimPrefix(key, cacheKeyPrefix)
}
