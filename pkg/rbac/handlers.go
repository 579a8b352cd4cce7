package rbac

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// Handlers provides HTTP handlers for roles, their grants and the
// resource registry
type Handlers struct {
	roles       *Service
	resources   *ResourceService
	permissions *PermissionMiddleware
	auditLogger audit.Logger
}

// NewHandlers creates new RBAC handlers
func NewHandlers(roles *Service, resources *ResourceService, permissions *PermissionMiddleware, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &Handlers{
		roles:       roles,
		resources:   resources,
		permissions: permissions,
		auditLogger: auditLogger,
	}
}

// RegisterRoutes registers all RBAC routes. Every route requires an
// authenticated principal whose role grants the listed action.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	role := func(action Action, fn http.HandlerFunc) http.Handler {
		return h.permissions.Require(ResourceSlugRole, action)(fn)
	}
	resource := func(action Action, fn http.HandlerFunc) http.Handler {
		return h.permissions.Require(ResourceSlugResource, action)(fn)
	}

	// Roles
	router.Handle("/roles", role(ActionReadAny, h.ListRoles)).Methods("GET")
	router.Handle("/roles", role(ActionCreateAny, h.CreateRole)).Methods("POST")
	router.Handle("/roles/{roleId}", role(ActionReadAny, h.GetRole)).Methods("GET")
	router.Handle("/roles/{roleId}", role(ActionUpdateAny, h.UpdateRole)).Methods("PUT")
	router.Handle("/roles/{roleId}", role(ActionDeleteAny, h.DeleteRole)).Methods("DELETE")

	// Grants
	router.Handle("/roles/{roleId}/grants", role(ActionUpdateAny, h.ReplaceGrants)).Methods("PUT")
	router.Handle("/roles/{roleId}/grants", role(ActionUpdateAny, h.AddGrants)).Methods("POST")
	router.Handle("/roles/{roleId}/grants/{resourceId}", role(ActionUpdateAny, h.DeleteGrant)).Methods("DELETE")

	// Resource registry
	router.Handle("/resources", resource(ActionReadAny, h.ListResources)).Methods("GET")
	router.Handle("/resources", resource(ActionCreateAny, h.CreateResource)).Methods("POST")
	router.Handle("/resources/{resourceId}", resource(ActionReadAny, h.GetResource)).Methods("GET")
	router.Handle("/resources/{resourceId}", resource(ActionDeleteAny, h.DeleteResource)).Methods("DELETE")
}

// ListRoles lists roles, filtered by the status and search query parameters
func (h *Handlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	filter := RoleFilter{
		Status: RoleStatus(httputil.ParseQueryString(r, "status", "")),
		Search: httputil.ParseQueryString(r, "search", ""),
	}

	roles, err := h.roles.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, roles, fmt.Sprintf("%d roles found", len(roles)))
}

// CreateRole creates a new role
func (h *Handlers) CreateRole(w http.ResponseWriter, r *http.Request) {
	var input RoleInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.roles.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logMutation(r, audit.EventTypeRoleCreate, audit.ResourceTypeRole, role.ID, nil, role,
		fmt.Sprintf("created role %s", role.Slug))
	httputil.WriteCreated(w, role, "role created")
}

// GetRole retrieves a specific role
func (h *Handlers) GetRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	role, err := h.roles.GetByID(r.Context(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, role, "role found")
}

// UpdateRole updates the fields present in the body
func (h *Handlers) UpdateRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	var patch RolePatch
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	role, err := h.roles.Update(r.Context(), roleID, patch)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logMutation(r, audit.EventTypeRoleUpdate, audit.ResourceTypeRole, role.ID, nil, role,
		fmt.Sprintf("updated role %s", role.Slug))
	httputil.WriteSuccess(w, role, "role updated")
}

// DeleteRole deletes a role and returns it
func (h *Handlers) DeleteRole(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	role, err := h.roles.Delete(r.Context(), roleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logMutation(r, audit.EventTypeRoleDelete, audit.ResourceTypeRole, role.ID, role, nil,
		fmt.Sprintf("deleted role %s", role.Slug))
	httputil.WriteSuccess(w, role, "role deleted")
}

// ReplaceGrants updates the actions of grants the role already has
func (h *Handlers) ReplaceGrants(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	var input GrantsInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.roles.ReplaceGrants(r.Context(), roleID, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logMutation(r, audit.EventTypeRoleGrantsReplace, audit.ResourceTypeRole, role.ID, nil, role.Grants,
		fmt.Sprintf("replaced grants of role %s", role.Slug))
	httputil.WriteSuccess(w, role, "grants updated")
}

// AddGrants adds grants for resources the role has no grant for
func (h *Handlers) AddGrants(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}

	var input GrantsInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	role, err := h.roles.AddGrants(r.Context(), roleID, input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logMutation(r, audit.EventTypeRoleGrantsAdd, audit.ResourceTypeRole, role.ID, nil, role.Grants,
		fmt.Sprintf("added grants to role %s", role.Slug))
	httputil.WriteSuccess(w, role, "grants added")
}

// DeleteGrant removes the grant for one resource from a role
func (h *Handlers) DeleteGrant(w http.ResponseWriter, r *http.Request) {
	roleID, ok := httputil.ParsePathStringOrError(w, r, "roleId")
	if !ok {
		return
	}
	resourceID, ok := httputil.ParsePathStringOrError(w, r, "resourceId")
	if !ok {
		return
	}

	role, err := h.roles.DeleteGrant(r.Context(), roleID, resourceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logMutation(r, audit.EventTypeRoleGrantDelete, audit.ResourceTypeRole, role.ID,
		map[string]interface{}{"resourceId": resourceID}, nil,
		fmt.Sprintf("removed grant for resource %s from role %s", resourceID, role.Slug))
	httputil.WriteSuccess(w, role, "grant deleted")
}

// ListResources lists the resource registry
func (h *Handlers) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.resources.List(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, resources, fmt.Sprintf("%d resources found", len(resources)))
}

// CreateResource registers a new resource
func (h *Handlers) CreateResource(w http.ResponseWriter, r *http.Request) {
	var input ResourceInput
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	resource, err := h.resources.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logMutation(r, audit.EventTypeResourceCreate, audit.ResourceTypeResource, resource.ID, nil, resource,
		fmt.Sprintf("created resource %s", resource.Slug))
	httputil.WriteCreated(w, resource, "resource created")
}

// GetResource retrieves one resource
func (h *Handlers) GetResource(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := httputil.ParsePathStringOrError(w, r, "resourceId")
	if !ok {
		return
	}

	resource, err := h.resources.Get(r.Context(), resourceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httputil.WriteSuccess(w, resource, "resource found")
}

// DeleteResource removes a resource from the registry
func (h *Handlers) DeleteResource(w http.ResponseWriter, r *http.Request) {
	resourceID, ok := httputil.ParsePathStringOrError(w, r, "resourceId")
	if !ok {
		return
	}

	resource, err := h.resources.Delete(r.Context(), resourceID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logMutation(r, audit.EventTypeResourceDelete, audit.ResourceTypeResource, resource.ID, resource, nil,
		fmt.Sprintf("deleted resource %s", resource.Slug))
	httputil.WriteSuccess(w, resource, "resource deleted")
}

// writeError maps service errors to HTTP status codes. Anything that is
// not a caller error is logged and reported without detail.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	message := err.Error()
	var svcErr *Error
	if errors.As(err, &svcErr) {
		message = svcErr.Message
	}

	switch {
	case errors.Is(err, ErrValidation):
		httputil.WriteBadRequest(w, message)
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFound(w, message)
	case errors.Is(err, ErrConflict):
		httputil.WriteConflict(w, message)
	default:
		observability.FromContext(r.Context()).WithError(err).
			WithField("method", r.Method).
			WithField("path", r.URL.Path).
			Error("request failed")
		httputil.WriteInternalError(w)
	}
}

func (h *Handlers) logMutation(r *http.Request, eventType audit.EventType, resourceType audit.ResourceType, id string, before, after interface{}, message string) {
	ctx := r.Context()

	event := audit.NewEvent(ctx, r, eventType, audit.EventStatusSuccess)
	event.ResourceType = resourceType
	event.ResourceID = id
	event.Message = message
	if before != nil || after != nil {
		event.Changes = &audit.ChangeDetails{Before: before, After: after}
	}

	if err := h.auditLogger.Log(ctx, event); err != nil {
		observability.FromContext(ctx).WithError(err).Warn("failed to write audit event")
	}
}
