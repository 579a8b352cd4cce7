package rbac

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// ChangeListener is called with the id of a role or resource after it has
// been created, changed or deleted
type ChangeListener func(ctx context.Context, roleID string)

// Service implements role reads and mutations, including the grant
// operations. It is the only writer of role grants.
type Service struct {
	roles     RoleStore
	resources ResourceStore
	metrics   *observability.Metrics

	mu        sync.RWMutex
	listeners []ChangeListener

	now   func() time.Time
	newID func() string
}

// NewService creates a role service
func NewService(roles RoleStore, resources ResourceStore) *Service {
	return &Service{
		roles:     roles,
		resources: resources,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     func() string { return uuid.NewString() },
	}
}

// SetMetrics enables operation metrics
func (s *Service) SetMetrics(metrics *observability.Metrics) {
	s.metrics = metrics
}

// OnChange registers a listener for role mutations
func (s *Service) OnChange(listener ChangeListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *Service) notify(ctx context.Context, roleID string) {
	s.mu.RLock()
	listeners := s.listeners
	s.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, roleID)
	}
}

// List returns roles matching filter with grants resolved, newest first
func (s *Service) List(ctx context.Context, filter RoleFilter) (views []*RoleView, err error) {
	defer s.observe("list", time.Now(), &err)

	if filter.Status != "" && !filter.Status.Valid() {
		return nil, NewValidationError(errInvalidStatus)
	}

	roles, err := s.roles.ListRoles(ctx, filter)
	if err != nil {
		return nil, err
	}

	return s.resolve(ctx, roles...)
}

// Create validates and persists a new role
func (s *Service) Create(ctx context.Context, input RoleInput) (view *RoleView, err error) {
	defer s.observe("create", time.Now(), &err)

	if err := validateInput(input); err != nil {
		return nil, err
	}
	if err := checkDuplicateGrants(input.Grants); err != nil {
		return nil, err
	}

	now := s.now()
	role := &Role{
		ID:          s.newID(),
		Name:        input.Name,
		Slug:        input.Slug,
		Status:      RoleStatus(input.Status),
		Description: input.Description,
		Grants:      toGrants(input.Grants),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.roles.CreateRole(ctx, role); err != nil {
		return nil, err
	}
	s.notify(ctx, role.ID)

	return s.resolveOne(ctx, role)
}

// GetByID returns one role with grants resolved
func (s *Service) GetByID(ctx context.Context, id string) (view *RoleView, err error) {
	defer s.observe("get", time.Now(), &err)

	role, err := s.roles.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.resolveOne(ctx, role)
}

// Update replaces the fields present in patch. A present grant list
// replaces the existing one wholesale.
func (s *Service) Update(ctx context.Context, id string, patch RolePatch) (view *RoleView, err error) {
	defer s.observe("update", time.Now(), &err)

	if err := validateInput(patch); err != nil {
		return nil, err
	}
	if patch.Grants != nil {
		if err := checkDuplicateGrants(*patch.Grants); err != nil {
			return nil, err
		}
	}

	return s.mutate(ctx, id, func(role *Role) error {
		if patch.Name != nil {
			role.Name = *patch.Name
		}
		if patch.Slug != nil {
			role.Slug = *patch.Slug
		}
		if patch.Status != nil {
			role.Status = RoleStatus(*patch.Status)
		}
		if patch.Description != nil {
			role.Description = *patch.Description
		}
		if patch.Grants != nil {
			role.Grants = toGrants(*patch.Grants)
		}
		return nil
	})
}

// Delete removes a role and returns what was deleted
func (s *Service) Delete(ctx context.Context, id string) (view *RoleView, err error) {
	defer s.observe("delete", time.Now(), &err)

	role, err := s.roles.GetRoleForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	view, err = s.resolveOne(ctx, role)
	if err != nil {
		return nil, err
	}

	if err := s.roles.DeleteRole(ctx, id); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to delete role %s: %w", id, ErrRoleVanished)
		}
		return nil, err
	}
	s.notify(ctx, id)

	return view, nil
}

// ReplaceGrants updates the actions of grants the role already has. Input
// grants for resources the role has no grant for are ignored; this never
// adds a grant.
func (s *Service) ReplaceGrants(ctx context.Context, id string, input GrantsInput) (view *RoleView, err error) {
	defer s.observe("replace_grants", time.Now(), &err)

	if err := validateInput(input); err != nil {
		return nil, err
	}

	incoming := make(map[string][]Action, len(input.Grants))
	for _, g := range toGrants(input.Grants) {
		if _, ok := incoming[g.ResourceID]; !ok {
			incoming[g.ResourceID] = g.Actions
		}
	}

	return s.mutate(ctx, id, func(role *Role) error {
		for i, g := range role.Grants {
			if actions, ok := incoming[g.ResourceID]; ok {
				role.Grants[i].Actions = append([]Action(nil), actions...)
			}
		}
		return nil
	})
}

// AddGrants appends grants for resources the role has no grant for yet.
// Grants for already granted resources are skipped, not merged.
func (s *Service) AddGrants(ctx context.Context, id string, input GrantsInput) (view *RoleView, err error) {
	defer s.observe("add_grants", time.Now(), &err)

	if err := validateInput(input); err != nil {
		return nil, err
	}
	grants := toGrants(input.Grants)

	return s.mutate(ctx, id, func(role *Role) error {
		present := make(map[string]struct{}, len(role.Grants)+len(grants))
		for _, g := range role.Grants {
			present[g.ResourceID] = struct{}{}
		}
		for _, g := range grants {
			if _, ok := present[g.ResourceID]; ok {
				continue
			}
			present[g.ResourceID] = struct{}{}
			role.Grants = append(role.Grants, g)
		}
		return nil
	})
}

// DeleteGrant removes the grant for resourceID from the role
func (s *Service) DeleteGrant(ctx context.Context, id, resourceID string) (view *RoleView, err error) {
	defer s.observe("delete_grant", time.Now(), &err)

	return s.mutate(ctx, id, func(role *Role) error {
		idx := role.GrantIndex(resourceID)
		if idx < 0 {
			return NewNotFoundError(errGrantNotFound, id, resourceID)
		}
		role.Grants = append(role.Grants[:idx], role.Grants[idx+1:]...)
		return nil
	})
}

// mutate loads the authoritative copy of a role, applies fn and writes the
// result back. A role that disappears between the two steps is reported as
// ErrRoleVanished.
func (s *Service) mutate(ctx context.Context, id string, fn func(role *Role) error) (*RoleView, error) {
	role, err := s.roles.GetRoleForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(role); err != nil {
		return nil, err
	}
	role.UpdatedAt = s.now()

	if err := s.roles.UpdateRole(ctx, role); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("failed to update role %s: %w", id, ErrRoleVanished)
		}
		return nil, err
	}
	s.notify(ctx, id)

	return s.resolveOne(ctx, role)
}

func (s *Service) resolveOne(ctx context.Context, role *Role) (*RoleView, error) {
	views, err := s.resolve(ctx, role)
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

// resolve replaces grant resource ids with resource records, looking up
// every distinct id once across all roles
func (s *Service) resolve(ctx context.Context, roles ...*Role) ([]*RoleView, error) {
	var ids []string
	seen := make(map[string]struct{})
	for _, role := range roles {
		for _, g := range role.Grants {
			if _, ok := seen[g.ResourceID]; ok {
				continue
			}
			seen[g.ResourceID] = struct{}{}
			ids = append(ids, g.ResourceID)
		}
	}

	byID := make(map[string]*Resource, len(ids))
	if len(ids) > 0 {
		resources, err := s.resources.GetResources(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve grant resources: %w", err)
		}
		for _, r := range resources {
			byID[r.ID] = r
		}
	}

	views := make([]*RoleView, 0, len(roles))
	for _, role := range roles {
		view := &RoleView{
			ID:          role.ID,
			Name:        role.Name,
			Slug:        role.Slug,
			Status:      role.Status,
			Description: role.Description,
			Grants:      make([]ResolvedGrant, 0, len(role.Grants)),
			CreatedAt:   role.CreatedAt,
			UpdatedAt:   role.UpdatedAt,
		}
		for _, g := range role.Grants {
			view.Grants = append(view.Grants, ResolvedGrant{
				Resource: byID[g.ResourceID],
				Actions:  append([]Action(nil), g.Actions...),
			})
		}
		views = append(views, view)
	}

	return views, nil
}

func (s *Service) observe(operation string, start time.Time, errp *error) {
	if s.metrics == nil {
		return
	}
	s.metrics.RecordRoleOperation(operation, outcome(*errp), time.Since(start))
}

// outcome labels an operation result for metrics
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "invalid"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "error"
	}
}
