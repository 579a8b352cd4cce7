package rbac

import (
	"fmt"
	"time"
)

// Verb is the operation half of an Action
type Verb string

const (
	VerbCreate Verb = "create"
	VerbRead   Verb = "read"
	VerbUpdate Verb = "update"
	VerbDelete Verb = "delete"
)

// Scope is the ownership half of an Action
type Scope string

const (
	ScopeAny Scope = "any"
	ScopeOwn Scope = "own"
)

// Action is one of the eight permitted verb/scope pairs. The zero value is
// not a valid action; values only come from the constants below or ParseAction.
type Action uint8

const (
	ActionCreateAny Action = iota + 1
	ActionReadAny
	ActionUpdateAny
	ActionDeleteAny
	ActionCreateOwn
	ActionReadOwn
	ActionUpdateOwn
	ActionDeleteOwn
)

var actionNames = map[Action]string{
	ActionCreateAny: "create.any",
	ActionReadAny:   "read.any",
	ActionUpdateAny: "update.any",
	ActionDeleteAny: "delete.any",
	ActionCreateOwn: "create.own",
	ActionReadOwn:   "read.own",
	ActionUpdateOwn: "update.own",
	ActionDeleteOwn: "delete.own",
}

var actionsByName = func() map[string]Action {
	m := make(map[string]Action, len(actionNames))
	for a, name := range actionNames {
		m[name] = a
	}
	return m
}()

// AllActions returns every action in declaration order
func AllActions() []Action {
	return []Action{
		ActionCreateAny, ActionReadAny, ActionUpdateAny, ActionDeleteAny,
		ActionCreateOwn, ActionReadOwn, ActionUpdateOwn, ActionDeleteOwn,
	}
}

// ParseAction converts the wire form (e.g. "read.own") into an Action
func ParseAction(s string) (Action, error) {
	a, ok := actionsByName[s]
	if !ok {
		return 0, fmt.Errorf("unknown action %q", s)
	}
	return a, nil
}

// NewAction builds the action for a verb and scope
func NewAction(verb Verb, scope Scope) (Action, error) {
	return ParseAction(string(verb) + "." + string(scope))
}

// Valid reports whether a is one of the eight defined actions
func (a Action) Valid() bool {
	_, ok := actionNames[a]
	return ok
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return fmt.Sprintf("Action(%d)", uint8(a))
}

// Verb returns the operation of the action
func (a Action) Verb() Verb {
	switch a {
	case ActionCreateAny, ActionCreateOwn:
		return VerbCreate
	case ActionReadAny, ActionReadOwn:
		return VerbRead
	case ActionUpdateAny, ActionUpdateOwn:
		return VerbUpdate
	case ActionDeleteAny, ActionDeleteOwn:
		return VerbDelete
	}
	return ""
}

// Scope returns the ownership scope of the action
func (a Action) Scope() Scope {
	switch a {
	case ActionCreateAny, ActionReadAny, ActionUpdateAny, ActionDeleteAny:
		return ScopeAny
	case ActionCreateOwn, ActionReadOwn, ActionUpdateOwn, ActionDeleteOwn:
		return ScopeOwn
	}
	return ""
}

// AnyVariant returns the ".any" action with the same verb
func (a Action) AnyVariant() Action {
	switch a.Verb() {
	case VerbCreate:
		return ActionCreateAny
	case VerbRead:
		return ActionReadAny
	case VerbUpdate:
		return ActionUpdateAny
	case VerbDelete:
		return ActionDeleteAny
	}
	return 0
}

// MarshalText implements encoding.TextMarshaler
func (a Action) MarshalText() ([]byte, error) {
	name, ok := actionNames[a]
	if !ok {
		return nil, fmt.Errorf("cannot marshal invalid action %d", uint8(a))
	}
	return []byte(name), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (a *Action) UnmarshalText(text []byte) error {
	parsed, err := ParseAction(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// RoleStatus is the lifecycle state of a role
type RoleStatus string

const (
	StatusActive   RoleStatus = "active"
	StatusInactive RoleStatus = "inactive"
)

// Valid reports whether s is a known status
func (s RoleStatus) Valid() bool {
	return s == StatusActive || s == StatusInactive
}

// Resource is a protected entity type that grants point at
type Resource struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Slug        string    `json:"slug"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Grant binds one resource to the actions a role may perform on it
type Grant struct {
	ResourceID string   `json:"resourceId"`
	Actions    []Action `json:"actions"`
}

// Has reports whether the grant lists exactly the given action
func (g Grant) Has(action Action) bool {
	for _, a := range g.Actions {
		if a == action {
			return true
		}
	}
	return false
}

// Allows reports whether the grant satisfies action. An ".own" action is
// also satisfied by the ".any" action of the same verb.
func (g Grant) Allows(action Action) (Action, bool) {
	if g.Has(action) {
		return action, true
	}
	if action.Scope() == ScopeOwn {
		broader := action.AnyVariant()
		if g.Has(broader) {
			return broader, true
		}
	}
	return 0, false
}

// Role is a named bundle of grants. The role owns its grants; they have
// no identity outside of it.
type Role struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Slug        string     `json:"slug"`
	Status      RoleStatus `json:"status"`
	Description string     `json:"description"`
	Grants      []Grant    `json:"grants"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// GrantIndex returns the position of the grant for resourceID, or -1
func (r *Role) GrantIndex(resourceID string) int {
	for i, g := range r.Grants {
		if g.ResourceID == resourceID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of the role
func (r *Role) Clone() *Role {
	c := *r
	c.Grants = make([]Grant, len(r.Grants))
	for i, g := range r.Grants {
		c.Grants[i] = Grant{
			ResourceID: g.ResourceID,
			Actions:    append([]Action(nil), g.Actions...),
		}
	}
	return &c
}

// ResolvedGrant is a grant whose resource reference has been looked up.
// Resource is nil when the referenced resource no longer exists.
type ResolvedGrant struct {
	Resource *Resource `json:"resourceId"`
	Actions  []Action  `json:"actions"`
}

// RoleView is the presentation form of a role with resolved grants
type RoleView struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Slug        string          `json:"slug"`
	Status      RoleStatus      `json:"status"`
	Description string          `json:"description"`
	Grants      []ResolvedGrant `json:"grants"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Permits reports whether the role allows action on the resource with the
// given slug, and which granted action matched
func (v *RoleView) Permits(resourceSlug string, action Action) (Action, bool) {
	if v.Status != StatusActive {
		return 0, false
	}
	for _, g := range v.Grants {
		if g.Resource == nil || g.Resource.Slug != resourceSlug {
			continue
		}
		if matched, ok := (Grant{Actions: g.Actions}).Allows(action); ok {
			return matched, true
		}
	}
	return 0, false
}

// RoleFilter narrows List results
type RoleFilter struct {
	Status RoleStatus
	Search string
}

// Decision is the outcome of an authorization check
type Decision struct {
	Allowed       bool      `json:"allowed"`
	Reason        string    `json:"reason"`
	MatchedAction string    `json:"matchedAction,omitempty"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// Built-in resource slugs guarded by this service
const (
	ResourceSlugRole     = "role"
	ResourceSlugResource = "resource"
)
