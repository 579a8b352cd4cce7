package rbac

import (
	"context"
	"fmt"
)

// AdminRoleSlug is the slug of the bootstrap administrator role
const AdminRoleSlug = "administrator"

// EnsureAdminRole seeds the built-in resources and returns the administrator
// role, creating it when missing. The role holds every any-scoped action on
// the role and resource registries. created reports whether it was new.
func EnsureAdminRole(ctx context.Context, roles *Service, resources *ResourceService) (view *RoleView, created bool, err error) {
	if _, err := resources.Seed(ctx, DefaultSeed()); err != nil {
		return nil, false, fmt.Errorf("failed to seed built-in resources: %w", err)
	}

	existing, err := roles.List(ctx, RoleFilter{Search: AdminRoleSlug})
	if err != nil {
		return nil, false, err
	}
	for _, r := range existing {
		if r.Slug == AdminRoleSlug {
			return r, false, nil
		}
	}

	actions := make([]string, 0, 4)
	for _, a := range AllActions() {
		if a.Scope() == ScopeAny {
			actions = append(actions, a.String())
		}
	}

	input := RoleInput{
		Name:        "Administrator",
		Slug:        AdminRoleSlug,
		Status:      string(StatusActive),
		Description: "Manages roles and the resource registry",
	}
	for _, slug := range []string{ResourceSlugRole, ResourceSlugResource} {
		res, err := resources.store.GetResourceBySlug(ctx, slug)
		if err != nil {
			return nil, false, fmt.Errorf("failed to get resource %s: %w", slug, err)
		}
		input.Grants = append(input.Grants, GrantInput{ResourceID: res.ID, Actions: actions})
	}

	view, err = roles.Create(ctx, input)
	if err != nil {
		return nil, false, err
	}
	return view, true, nil
}
