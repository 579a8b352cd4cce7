// Package audit records who changed which role or resource, and which
// requests were denied.
//
// # Event Types
//
// Roles: role.create, role.update, role.delete, role.grants_replace,
// role.grants_add, role.grant_delete
// Resources: resource.create, resource.delete, resource.seed
// Security: authz.access_denied, auth.token_issue
//
// # Usage Example
//
//	event := audit.NewEvent(ctx, r, audit.EventTypeRoleUpdate, audit.EventStatusSuccess)
//	event.ResourceType = audit.ResourceTypeRole
//	event.ResourceID = role.ID
//	event.Changes = &audit.ChangeDetails{Before: before, After: after}
//	_ = auditLogger.Log(ctx, event)
//
// # Sinks
//
//   - DBLogger: PostgreSQL audit_logs table; also the Store used for search
//     and retention
//   - FileLogger: rotating JSON lines files
//   - LogLogger: the structured application log
//   - MultiLogger: fan-out to several sinks, optionally async
//
// # Retention
//
// Archiver exports events older than RetentionPolicy.RetentionDays to
// object storage as NDJSON (optionally gzipped) and then prunes them. The
// janitor command runs it on a cron schedule.
package audit
