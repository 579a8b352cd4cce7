// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for gatehouse.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("role_id", id).Info("role updated")
//
// Request handlers use FromContext to pick up the request id, user id and
// trace ids stored by the HTTP middleware.
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordRoleOperation("create", "ok", elapsed)
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.AddCheck("archive", archiver.Ping, false)
//	observability.RegisterHealthRoutes(router, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
//
// Packages obtain tracers with Tracer("storage/postgres") and so on.
package observability
