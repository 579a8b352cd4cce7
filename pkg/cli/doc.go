// Package cli provides the gatehouse operator command-line interface.
//
// # Overview
//
// The operator CLI talks to the storage backend directly, using the same
// GATEHOUSE_* configuration as the server. It covers the tasks that have no
// HTTP surface: bootstrapping the first administrator, signing tokens,
// applying migrations and exporting the audit trail.
//
// Results are written to stdout so they can be piped; progress and
// diagnostics go to stderr through logrus.
//
// # Commands
//
// seed: Register the built-in resources, an optional seed file and the
// administrator role
//
//	gatehouse seed --file ./seed.yaml --admin
//
// issue-token: Sign a bearer token for a user acting under a role
//
//	gatehouse issue-token --user alice --role 3f1c... --ttl 8h
//
// migrate: Apply schema migrations, or show which are applied
//
//	gatehouse migrate
//	gatehouse migrate --status
//
// check: Evaluate a permission without going through the API. Exits
// non-zero when the role is denied.
//
//	gatehouse check --role 3f1c... --resource role --action update.own
//
// audit-export: Export audit events from the postgres audit table
//
//	gatehouse audit-export --since 168h --format csv --out audit.csv
//	gatehouse audit-export --event-type role.delete,role.grants_replace
//
// # Bootstrapping
//
// A fresh deployment has no roles, so no token can pass authorization.
// Run seed with --admin once, then issue a token for the printed role id:
//
//	ROLE=$(gatehouse seed --admin)
//	gatehouse issue-token --user ops --role "$ROLE"
package cli
