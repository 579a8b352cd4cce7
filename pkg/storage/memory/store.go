// Package memory provides an in-process role and resource store for tests
// and single-node development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/rbac"
)

// Store keeps roles and resources in maps. Values handed in and out are
// copies, so callers never share state with the store.
type Store struct {
	mu        sync.RWMutex
	roles     map[string]*storedRole
	resources map[string]*rbac.Resource
	seq       uint64
}

type storedRole struct {
	role *rbac.Role
	seq  uint64
}

var (
	_ rbac.RoleStore     = (*Store)(nil)
	_ rbac.ResourceStore = (*Store)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{
		roles:     make(map[string]*storedRole),
		resources: make(map[string]*rbac.Resource),
	}
}

// ListRoles returns matching roles, newest first. Roles created at the
// same instant are ordered by insertion, latest first.
func (s *Store) ListRoles(_ context.Context, filter rbac.RoleFilter) ([]*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	matched := make([]*storedRole, 0, len(s.roles))
	for _, sr := range s.roles {
		if filter.Status != "" && sr.role.Status != filter.Status {
			continue
		}
		if search != "" && !matchesSearch(sr.role, search) {
			continue
		}
		matched = append(matched, sr)
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.role.CreatedAt.Equal(b.role.CreatedAt) {
			return a.role.CreatedAt.After(b.role.CreatedAt)
		}
		return a.seq > b.seq
	})

	roles := make([]*rbac.Role, len(matched))
	for i, sr := range matched {
		roles[i] = sr.role.Clone()
	}
	return roles, nil
}

func matchesSearch(role *rbac.Role, search string) bool {
	return strings.Contains(strings.ToLower(role.Name), search) ||
		strings.Contains(strings.ToLower(role.Slug), search) ||
		strings.Contains(strings.ToLower(role.Description), search)
}

// GetRole returns a copy of one role
func (s *Store) GetRole(_ context.Context, id string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sr, ok := s.roles[id]
	if !ok {
		return nil, rbac.RoleNotFound(id)
	}
	return sr.role.Clone(), nil
}

// GetRoleForUpdate is GetRole; the memory store has a single copy
func (s *Store) GetRoleForUpdate(ctx context.Context, id string) (*rbac.Role, error) {
	return s.GetRole(ctx, id)
}

// CreateRole inserts a role
func (s *Store) CreateRole(_ context.Context, role *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[role.ID]; ok {
		return rbac.NewConflictError("a role with this id already exists")
	}
	if err := s.checkRoleUnique(role); err != nil {
		return err
	}

	s.seq++
	s.roles[role.ID] = &storedRole{role: role.Clone(), seq: s.seq}
	return nil
}

// UpdateRole replaces a stored role
func (s *Store) UpdateRole(_ context.Context, role *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sr, ok := s.roles[role.ID]
	if !ok {
		return rbac.RoleNotFound(role.ID)
	}
	if err := s.checkRoleUnique(role); err != nil {
		return err
	}

	sr.role = role.Clone()
	return nil
}

// DeleteRole removes a role
func (s *Store) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.roles[id]; !ok {
		return rbac.RoleNotFound(id)
	}
	delete(s.roles, id)
	return nil
}

// checkRoleUnique must be called with the write lock held
func (s *Store) checkRoleUnique(role *rbac.Role) error {
	for id, sr := range s.roles {
		if id == role.ID {
			continue
		}
		if sr.role.Name == role.Name {
			return rbac.NewConflictError("a role with this name already exists")
		}
		if sr.role.Slug == role.Slug {
			return rbac.NewConflictError("a role with this slug already exists")
		}
	}
	return nil
}

// ListResources returns every resource ordered by slug
func (s *Store) ListResources(_ context.Context) ([]*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]*rbac.Resource, 0, len(s.resources))
	for _, r := range s.resources {
		c := *r
		resources = append(resources, &c)
	}
	sort.Slice(resources, func(i, j int) bool {
		return resources[i].Slug < resources[j].Slug
	})
	return resources, nil
}

// GetResource returns one resource by id
func (s *Store) GetResource(_ context.Context, id string) (*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.resources[id]
	if !ok {
		return nil, rbac.ResourceNotFound(id)
	}
	c := *r
	return &c, nil
}

// GetResourceBySlug returns one resource by slug
func (s *Store) GetResourceBySlug(_ context.Context, slug string) (*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.resources {
		if r.Slug == slug {
			c := *r
			return &c, nil
		}
	}
	return nil, rbac.NewNotFoundError("resource with slug %s not found", slug)
}

// GetResources returns the resources that exist among ids
func (s *Store) GetResources(_ context.Context, ids []string) ([]*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resources := make([]*rbac.Resource, 0, len(ids))
	for _, id := range ids {
		if r, ok := s.resources[id]; ok {
			c := *r
			resources = append(resources, &c)
		}
	}
	return resources, nil
}

// CreateResource inserts a resource
func (s *Store) CreateResource(_ context.Context, resource *rbac.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[resource.ID]; ok {
		return rbac.NewConflictError("a resource with this id already exists")
	}
	for _, r := range s.resources {
		if r.Slug == resource.Slug {
			return rbac.NewConflictError("a resource with this slug already exists")
		}
	}

	c := *resource
	s.resources[resource.ID] = &c
	return nil
}

// UpdateResource overwrites name and description of a resource
func (s *Store) UpdateResource(_ context.Context, resource *rbac.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resources[resource.ID]
	if !ok {
		return rbac.ResourceNotFound(resource.ID)
	}
	r.Name = resource.Name
	r.Description = resource.Description
	r.UpdatedAt = resource.UpdatedAt
	return nil
}

// DeleteResource removes a resource. Grants referencing it are untouched.
func (s *Store) DeleteResource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.resources[id]; !ok {
		return rbac.ResourceNotFound(id)
	}
	delete(s.resources, id)
	return nil
}

// HealthCheck always succeeds
func (s *Store) HealthCheck(context.Context) error {
	return nil
}

// Close is a no-op
func (s *Store) Close() error {
	return nil
}
