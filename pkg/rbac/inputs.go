package rbac

// GrantInput is the request form of a grant. Actions arrive as text and are
// parsed into Action values once validated.
type GrantInput struct {
	ResourceID string   `json:"resourceId" validate:"required"`
	Actions    []string `json:"actions" validate:"required,dive,rbac_action"`
}

// toGrant converts a validated input. Repeated actions collapse; the first
// occurrence keeps its position.
func (g GrantInput) toGrant() Grant {
	actions := make([]Action, 0, len(g.Actions))
	seen := make(map[Action]struct{}, len(g.Actions))
	for _, name := range g.Actions {
		a, err := ParseAction(name)
		if err != nil {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		actions = append(actions, a)
	}
	return Grant{ResourceID: g.ResourceID, Actions: actions}
}

func toGrants(inputs []GrantInput) []Grant {
	grants := make([]Grant, 0, len(inputs))
	for _, in := range inputs {
		grants = append(grants, in.toGrant())
	}
	return grants
}

// RoleInput is the body of a create request
type RoleInput struct {
	Name        string       `json:"name" validate:"required"`
	Slug        string       `json:"slug" validate:"required"`
	Status      string       `json:"status" validate:"required,oneof=active inactive"`
	Description string       `json:"description" validate:"required"`
	Grants      []GrantInput `json:"grants" validate:"dive"`
}

// RolePatch is the body of an update request. Nil fields are left unchanged;
// a non-nil Grants replaces the whole grant list.
type RolePatch struct {
	Name        *string       `json:"name" validate:"omitempty,min=1"`
	Slug        *string       `json:"slug" validate:"omitempty,min=1"`
	Status      *string       `json:"status" validate:"omitempty,oneof=active inactive"`
	Description *string       `json:"description" validate:"omitempty,min=1"`
	Grants      *[]GrantInput `json:"grants" validate:"omitempty,dive"`
}

// GrantsInput is the body of the grant replace and add requests
type GrantsInput struct {
	Grants []GrantInput `json:"grants" validate:"required,dive"`
}

// ResourceInput is the body of a resource create request
type ResourceInput struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Slug        string `json:"slug" yaml:"slug" validate:"required,rbac_slug"`
	Description string `json:"description" yaml:"description"`
}
