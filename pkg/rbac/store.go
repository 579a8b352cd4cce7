package rbac

import "context"

// RoleStore persists roles. Implementations return errors that unwrap to
// ErrNotFound for a missing id and ErrConflict for a duplicate name or slug.
type RoleStore interface {
	// ListRoles returns the matching roles, newest created first
	ListRoles(ctx context.Context, filter RoleFilter) ([]*Role, error)

	// GetRole returns one role by id
	GetRole(ctx context.Context, id string) (*Role, error)
	// GetRoleForUpdate returns one role from the authoritative copy,
	// bypassing caches and replicas. Read-modify-write paths use it.
	GetRoleForUpdate(ctx context.Context, id string) (*Role, error)

	// CreateRole inserts a new role
	CreateRole(ctx context.Context, role *Role) error

	// UpdateRole overwrites the stored role with the same id in one write
	UpdateRole(ctx context.Context, role *Role) error

	// DeleteRole removes a role
	DeleteRole(ctx context.Context, id string) error
}

// ResourceStore persists the resource registry
type ResourceStore interface {
	// ListResources returns every resource ordered by slug
	ListResources(ctx context.Context) ([]*Resource, error)

	// GetResource returns one resource by id
	GetResource(ctx context.Context, id string) (*Resource, error)

	// GetResourceBySlug returns one resource by slug
	GetResourceBySlug(ctx context.Context, slug string) (*Resource, error)

	// GetResources returns the resources that exist among ids; missing ids
	// are skipped
	GetResources(ctx context.Context, ids []string) ([]*Resource, error)

	// CreateResource inserts a new resource
	CreateResource(ctx context.Context, resource *Resource) error

	// UpdateResource overwrites name and description of an existing resource
	UpdateResource(ctx context.Context, resource *Resource) error

	// DeleteResource removes a resource
	DeleteResource(ctx context.Context, id string) error
}
