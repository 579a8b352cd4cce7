// Package api assembles the gatehouse HTTP servers.
//
// # Overview
//
// Server wires the storage backend, the role and resource services, the
// permission checker, token validation, audit sinks and metrics into two
// listeners:
//
//   - the API port serves the role and resource routes registered by
//     pkg/rbac
//   - the health port serves /health, /health/live, /health/ready and
//     /metrics
//
// # Usage
//
//	backend, err := storage.Open(ctx, cfg.Storage, logger)
//	if err != nil {
//		return err
//	}
//
//	server, err := api.NewServer(cfg, backend, logger, version)
//	if err != nil {
//		return err
//	}
//	defer server.Close()
//
//	// Blocks until ctx is cancelled or a listener fails
//	err = server.Run(ctx)
//
// # Request Pipeline
//
// Every API request passes, outermost first, through:
//
//  1. OpenTelemetry HTTP instrumentation (otelhttp)
//  2. Request id, access logging, panic recovery, body size limit and
//     content type checks (pkg/httputil)
//  3. Prometheus request metrics
//  4. Bearer token authentication (pkg/middleware). Requests without a
//     token continue anonymously and are rejected by the permission gate.
//  5. Rate limiting of mutating requests, per principal. With
//     GATEHOUSE_RATE_LIMIT_DISTRIBUTED the window is shared through Redis.
//  6. The permission gate for the route (pkg/rbac)
//
// # Audit
//
// NewAuditLogger builds the audit sink from configuration. The database sink
// writes to the postgres audit_logs table, the file sink to rotated JSON
// files, and the log sink to the service log. Events are written to the sinks
// in the background; a failed write is logged and counted in
// gatehouse_audit_events_total with status "error".
//
// # Seeding
//
// Run registers the built-in resources and the configured seed file before
// accepting traffic. With GATEHOUSE_SEED_WATCH the file is re-applied
// whenever it changes.
package api
