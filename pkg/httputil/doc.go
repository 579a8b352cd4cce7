// Package httputil provides HTTP utilities for request parsing and the
// gatehouse response envelopes.
//
// # Response Envelopes
//
// Successful responses are wrapped as {"metadata": ..., "message": "..."}:
//
//	httputil.WriteSuccess(w, role, "Role retrieved")
//	httputil.WriteCreated(w, role, "Role created")
//
// Errors are wrapped as {"errors": {"message": "..."}}:
//
//	httputil.WriteBadRequest(w, "name is required")
//	httputil.WriteNotFound(w, "role 42 not found")
//
// # Request Parsing
//
//	var input rbac.RoleInput
//	if !httputil.ParseJSONOrError(w, r, &input) {
//		return
//	}
//	id, ok := httputil.ParsePathStringOrError(w, r, "roleId")
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
