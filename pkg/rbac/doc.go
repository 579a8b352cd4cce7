// Package rbac manages roles, the grants they carry and the registry of
// resources those grants refer to.
//
// # Overview
//
// A Role is a named bundle of grants with a lifecycle status. Each Grant
// pairs a resource id with a set of actions:
//
//	create.any  read.any  update.any  delete.any
//	create.own  read.own  update.own  delete.own
//
// Grants are owned by their role and have no identity of their own. The
// resource id is a weak reference: deleting a resource leaves grants that
// point at it in place, and they resolve to a null resource when read.
//
// # Service
//
// Service exposes every role operation. Reads return RoleView values whose
// grants carry the resolved Resource records.
//
//	svc := rbac.NewService(store, store)
//
//	role, err := svc.Create(ctx, rbac.RoleInput{
//		Name:        "Editor",
//		Slug:        "editor",
//		Status:      "active",
//		Description: "Edits content",
//		Grants: []rbac.GrantInput{
//			{ResourceID: articleID, Actions: []string{"read.any", "update.own"}},
//		},
//	})
//
// The three grant operations behave differently on purpose and should not be
// confused:
//
//   - ReplaceGrants overwrites the actions of grants the role already has.
//     Input for resources the role has no grant for is dropped.
//   - AddGrants appends grants for resources not yet granted. Input for
//     resources already granted is skipped, never merged.
//   - DeleteGrant removes the grant for one resource and fails with
//     ErrNotFound if there is none.
//
// Update with a grants field replaces the whole list.
//
// # Errors
//
// Caller errors unwrap to ErrValidation, ErrNotFound or ErrConflict. The
// HTTP layer maps them to 400, 404 and 409; everything else is a 500.
// ErrRoleVanished marks a role that was deleted while a mutation was in
// flight and is reported as a 500.
//
// # Authorization
//
// PermissionChecker answers whether a role allows an action on a resource
// slug. An ".own" requirement is met by the ".own" or the ".any" grant of
// the same verb; ownership of the individual record is left to the caller.
// Inactive and unknown roles allow nothing. Loaded roles are cached for a
// short TTL and dropped as soon as the Service reports a change. Cached roles
// embed their resources, so resource changes drop the whole cache:
//
//	checker := rbac.NewPermissionChecker(svc, rbac.DefaultCheckerConfig())
//	svc.OnChange(checker.Invalidate)
//	resources.OnChange(func(context.Context, string) { checker.Purge() })
//
// PermissionMiddleware puts a checker in front of an http.Handler:
//
//	perms := rbac.NewPermissionMiddleware(checker, auditLogger, logger)
//	router.Handle("/roles", perms.Require(rbac.ResourceSlugRole, rbac.ActionReadAny)(h))
//
// # HTTP API
//
//	GET    /roles                                 read.any on role
//	POST   /roles                                 create.any on role
//	GET    /roles/{roleId}                        read.any on role
//	PUT    /roles/{roleId}                        update.any on role
//	DELETE /roles/{roleId}                        delete.any on role
//	PUT    /roles/{roleId}/grants                 update.any on role
//	POST   /roles/{roleId}/grants                 update.any on role
//	DELETE /roles/{roleId}/grants/{resourceId}    update.any on role
//	GET    /resources                             read.any on resource
//	POST   /resources                             create.any on resource
//	GET    /resources/{resourceId}                read.any on resource
//	DELETE /resources/{resourceId}                delete.any on resource
//
// GET /roles accepts status=active|inactive and a case-insensitive search
// over name, slug and description. Responses use the envelope
//
//	{"metadata": <role or list>, "message": "role created"}
//
// and errors use {"errors": {"message": "..."}}.
//
// # Seeding
//
// The resource registry is usually declared in a YAML seed file and applied
// with ResourceService.Seed. SeedWatcher re-applies the file when it
// changes. Seeding upserts by slug and never deletes.
//
// # Concurrency
//
// Mutations read the role, change it in memory and write it back in one
// store call. Two concurrent mutations of the same role are last write wins.
package rbac
