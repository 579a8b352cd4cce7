package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// RoleReader loads a role with resolved grants
type RoleReader interface {
	GetByID(ctx context.Context, id string) (*RoleView, error)
}

// Checker decides whether a role may perform an action on a resource
type Checker interface {
	Check(ctx context.Context, roleID, resourceSlug string, action Action) (*Decision, error)
}

// CheckerConfig configures the role cache of a PermissionChecker
type CheckerConfig struct {
	CacheSize int
	CacheTTL  time.Duration
	// LoadTimeout bounds a shared role load. Zero means no bound.
	LoadTimeout time.Duration
}

// DefaultCheckerConfig returns the default checker configuration
func DefaultCheckerConfig() CheckerConfig {
	return CheckerConfig{
		CacheSize:   1024,
		CacheTTL:    30 * time.Second,
		LoadTimeout: 5 * time.Second,
	}
}

// PermissionChecker evaluates grants of the caller's role. Loaded roles are
// kept in a small expiring LRU; concurrent misses for the same role share
// one load. A load that overlaps Invalidate or Purge for its role is
// returned to its callers but never cached.
type PermissionChecker struct {
	roles       RoleReader
	cache       *lru.LRU[string, *RoleView]
	group       singleflight.Group
	loadTimeout time.Duration
	metrics     *observability.Metrics
	now         func() time.Time

	mu    sync.Mutex
	epoch uint64
	gens  map[string]uint64
}

// generation identifies the cache state a load started from
type generation struct {
	epoch uint64
	role  uint64
}

// NewPermissionChecker creates a checker. A zero CacheSize disables caching.
func NewPermissionChecker(roles RoleReader, config CheckerConfig) *PermissionChecker {
	pc := &PermissionChecker{
		roles:       roles,
		loadTimeout: config.LoadTimeout,
		now:         time.Now,
		gens:        make(map[string]uint64),
	}
	if config.CacheSize > 0 {
		pc.cache = lru.NewLRU[string, *RoleView](config.CacheSize, nil, config.CacheTTL)
	}
	return pc
}

// SetMetrics enables decision and cache metrics
func (pc *PermissionChecker) SetMetrics(metrics *observability.Metrics) {
	pc.metrics = metrics
}

// Check reports whether roleID allows action on resourceSlug. A role that
// does not exist is denied, not an error.
func (pc *PermissionChecker) Check(ctx context.Context, roleID, resourceSlug string, action Action) (*Decision, error) {
	decision := &Decision{CheckedAt: pc.now()}

	if roleID == "" {
		decision.Reason = "principal has no role"
		pc.recordDecision(resourceSlug, decision)
		return decision, nil
	}

	role, err := pc.loadRole(ctx, roleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			decision.Reason = fmt.Sprintf("role %s not found", roleID)
			pc.recordDecision(resourceSlug, decision)
			return decision, nil
		}
		return nil, fmt.Errorf("failed to load role %s: %w", roleID, err)
	}

	switch matched, ok := role.Permits(resourceSlug, action); {
	case role.Status != StatusActive:
		decision.Reason = fmt.Sprintf("role %s is %s", role.Slug, role.Status)
	case ok:
		decision.Allowed = true
		decision.MatchedAction = matched.String()
		decision.Reason = fmt.Sprintf("granted %s on %s by role %s", matched, resourceSlug, role.Slug)
	default:
		decision.Reason = fmt.Sprintf("role %s has no %s grant on %s", role.Slug, action, resourceSlug)
	}

	pc.recordDecision(resourceSlug, decision)
	return decision, nil
}

// Invalidate drops the cached copy of a role. Loads already in flight for it
// are not cached, and later callers start a fresh load.
func (pc *PermissionChecker) Invalidate(_ context.Context, roleID string) {
	if pc.cache == nil {
		return
	}
	pc.mu.Lock()
	pc.gens[roleID]++
	pc.cache.Remove(roleID)
	pc.mu.Unlock()
	pc.group.Forget(roleID)
}

// Purge drops every cached role
func (pc *PermissionChecker) Purge() {
	if pc.cache == nil {
		return
	}
	pc.mu.Lock()
	pc.epoch++
	pc.gens = make(map[string]uint64)
	pc.cache.Purge()
	pc.mu.Unlock()
}

func (pc *PermissionChecker) snapshot(roleID string) generation {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return generation{epoch: pc.epoch, role: pc.gens[roleID]}
}

// store caches role unless the role was invalidated since gen was taken
func (pc *PermissionChecker) store(roleID string, gen generation, role *RoleView) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.epoch == gen.epoch && pc.gens[roleID] == gen.role {
		pc.cache.Add(roleID, role)
	}
}

// loadRole returns the cached role or loads it. The shared load runs
// detached from the caller's cancellation, so one caller giving up does not
// fail the others waiting on the same role.
func (pc *PermissionChecker) loadRole(ctx context.Context, roleID string) (*RoleView, error) {
	if pc.cache != nil {
		if role, ok := pc.cache.Get(roleID); ok {
			pc.recordCache(true)
			return role, nil
		}
		pc.recordCache(false)
	}

	detached := context.WithoutCancel(ctx)
	resultChan := pc.group.DoChan(roleID, func() (interface{}, error) {
		loadCtx := detached
		if pc.loadTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(detached, pc.loadTimeout)
			defer cancel()
		}

		var gen generation
		if pc.cache != nil {
			gen = pc.snapshot(roleID)
		}
		role, err := pc.roles.GetByID(loadCtx, roleID)
		if err != nil {
			return nil, err
		}
		if pc.cache != nil {
			pc.store(roleID, gen, role)
		}
		return role, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*RoleView), nil
	}
}

func (pc *PermissionChecker) recordDecision(resourceSlug string, d *Decision) {
	if pc.metrics != nil {
		pc.metrics.RecordAuthzDecision(resourceSlug, d.Allowed)
	}
}

func (pc *PermissionChecker) recordCache(hit bool) {
	if pc.metrics != nil {
		pc.metrics.RecordCacheLookup("checker", hit)
	}
}
