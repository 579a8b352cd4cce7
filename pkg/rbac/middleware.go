package rbac

import (
	"fmt"
	"net/http"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// PermissionMiddleware gates routes on the grants of the caller's role
type PermissionMiddleware struct {
	checker Checker
	audit   audit.Logger
	logger  *observability.Logger
}

// NewPermissionMiddleware creates a new permission middleware. auditLogger
// receives one event per denied request.
func NewPermissionMiddleware(checker Checker, auditLogger audit.Logger, logger *observability.Logger) *PermissionMiddleware {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger{}
	}
	return &PermissionMiddleware{
		checker: checker,
		audit:   auditLogger,
		logger:  logger,
	}
}

// Require creates middleware that lets a request through only when the
// caller's role allows action on the resource with the given slug
func (pm *PermissionMiddleware) Require(resourceSlug string, action Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx := middleware.GetAuthContext(r)
			if authCtx == nil || authCtx.Principal == nil {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}

			decision, err := pm.checker.Check(r.Context(), authCtx.RoleID(), resourceSlug, action)
			if err != nil {
				observability.FromContext(r.Context()).WithError(err).
					WithField("resource", resourceSlug).
					WithField("action", action.String()).
					Error("permission check failed")
				httputil.WriteInternalError(w)
				return
			}

			if !decision.Allowed {
				pm.logDenied(r, resourceSlug, action, decision)
				httputil.WriteForbidden(w, fmt.Sprintf("insufficient permissions: %s on %s required", action, resourceSlug))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (pm *PermissionMiddleware) logDenied(r *http.Request, resourceSlug string, action Action, decision *Decision) {
	ctx := r.Context()

	event := audit.NewEvent(ctx, r, audit.EventTypeAuthzAccessDenied, audit.EventStatusDenied)
	event.ResourceType = audit.ResourceType(resourceSlug)
	event.StatusCode = http.StatusForbidden
	event.Message = decision.Reason
	event.Metadata["action"] = action.String()

	if err := pm.audit.Log(ctx, event); err != nil && pm.logger != nil {
		pm.logger.WithError(err).Warn("failed to write audit event")
	}
}
