package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/gatehouse/pkg/audit"
	"github.com/platinummonkey/gatehouse/pkg/auth"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/middleware"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/rbac"
	"github.com/platinummonkey/gatehouse/pkg/storage"
)

// Server is the gatehouse HTTP service: the RBAC API on the main port and
// health probes plus metrics on the health port
type Server struct {
	config  *config.Config
	logger  *observability.Logger
	backend *storage.Backend

	roles     *rbac.Service
	resources *rbac.ResourceService
	checker   *rbac.PermissionChecker
	tokens    *auth.TokenManager
	audit     audit.Logger

	registry *prometheus.Registry
	metrics  *observability.Metrics
	health   *observability.HealthChecker

	healthChecks []namedCheck
	localLimiter *middleware.RateLimiter
	seedWatcher  *rbac.SeedWatcher

	router       *mux.Router
	handler      http.Handler
	healthRouter *mux.Router
	httpServer   *http.Server
	healthServer *http.Server
}

type namedCheck struct {
	name  string
	check observability.CheckFunc
}

// NewServer wires the services on top of an opened storage backend
func NewServer(cfg *config.Config, backend *storage.Backend, logger *observability.Logger, version string) (*Server, error) {
	s := &Server{
		config:       cfg,
		logger:       logger,
		backend:      backend,
		router:       mux.NewRouter(),
		healthRouter: mux.NewRouter(),
	}

	if cfg.Observability.MetricsEnabled {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		s.metrics = observability.NewMetrics(s.registry)
		backend.SetMetrics(s.metrics)
	}

	tokens, err := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create token manager: %w", err)
	}
	s.tokens = tokens

	auditLogger, err := NewAuditLogger(cfg.Audit, backend.DB, logger, s.metrics)
	if err != nil {
		return nil, err
	}
	s.audit = auditLogger

	s.roles = rbac.NewService(backend, backend)
	s.resources = rbac.NewResourceService(backend)
	s.checker = rbac.NewPermissionChecker(s.roles, rbac.CheckerConfig{
		CacheSize:   cfg.Auth.CheckerCacheSize,
		CacheTTL:    cfg.Auth.CheckerCacheTTL,
		LoadTimeout: rbac.DefaultCheckerConfig().LoadTimeout,
	})
	if s.metrics != nil {
		s.roles.SetMetrics(s.metrics)
		s.resources.SetMetrics(s.metrics)
		s.checker.SetMetrics(s.metrics)
	}
	s.roles.OnChange(s.checker.Invalidate)
	// Cached roles carry resolved resources, so any resource change drops them all
	s.resources.OnChange(func(context.Context, string) { s.checker.Purge() })

	if cfg.Seed.Watch {
		s.seedWatcher = rbac.NewSeedWatcher(cfg.Seed.Path, s.resources, s.audit, logger, cfg.Seed.Debounce)
	}

	if err := s.setupRoutes(); err != nil {
		return nil, err
	}
	s.setupHealth(version)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      s.handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	s.healthServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           s.healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// setupRoutes builds the API handler: request plumbing outside the router,
// authentication and rate limiting inside it so the matched route is known
func (s *Server) setupRoutes() error {
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
	s.router.Use(middleware.NewAuthMiddleware(s.tokens, false).Handler)

	if s.config.Server.RateLimitEnabled {
		limiter, err := s.newRateLimitMiddleware()
		if err != nil {
			return err
		}
		s.router.Use(mutatingOnly(limiter.Handler))
	}

	permissions := rbac.NewPermissionMiddleware(s.checker, s.audit, s.logger)
	rbac.NewHandlers(s.roles, s.resources, permissions, s.audit).RegisterRoutes(s.router)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteNotFound(w, "route not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	chain := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
		httputil.MaxBytesMiddleware(s.config.Server.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
	)
	s.handler = otelhttp.NewHandler(chain(s.router), "gatehouse-api")
	return nil
}

// newRateLimitMiddleware limits principals and anonymous callers, through
// Redis when limits are shared between replicas
func (s *Server) newRateLimitMiddleware() (*middleware.RateLimitMiddleware, error) {
	principalCfg := middleware.PerPrincipalRateLimitConfig()
	principalCfg.RequestsPerWindow = s.config.Server.RateLimitRequests
	principalCfg.WindowDuration = s.config.Server.RateLimitWindow
	anonymousCfg := middleware.DefaultRateLimitConfig()

	var principal, anonymous middleware.Limiter
	if s.config.Server.RateLimitDistributed {
		client := s.redisClient()
		if client == nil {
			return nil, fmt.Errorf("distributed rate limiting requires a redis connection")
		}
		distributed := middleware.NewDistributedRateLimiter(client, principalCfg, "gatehouse:ratelimit:principal")
		principal = distributed
		anonymous = middleware.NewDistributedRateLimiter(client, anonymousCfg, "gatehouse:ratelimit:anonymous")
		s.healthChecks = append(s.healthChecks, namedCheck{name: "rate_limiter", check: distributed.HealthCheck})
	} else {
		s.localLimiter = middleware.NewRateLimiter(principalCfg)
		principal = s.localLimiter
		anonymous = middleware.NewRateLimiter(anonymousCfg)
	}

	mw := middleware.NewRateLimitMiddleware("mutations", principal, anonymous, s.logger)
	mw.SetFailOpen(s.config.Server.RateLimitFailOpen)
	if s.metrics != nil {
		mw.SetMetrics(s.metrics)
	}
	return mw, nil
}

// mutatingOnly applies mw to every method except GET and HEAD
func mutatingOnly(mw func(http.Handler) http.Handler) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		limited := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}
			limited.ServeHTTP(w, r)
		})
	}
}

// setupHealth registers probes and metrics on the health router
func (s *Server) setupHealth(version string) {
	s.health = observability.NewHealthChecker(s.backend.DB, s.redisClient(), version)
	if s.backend.DB == nil {
		s.health.AddCheck("store", s.backend.HealthCheck, true)
	}
	for _, c := range s.healthChecks {
		s.health.AddCheck(c.name, c.check, false)
	}

	observability.RegisterHealthRoutes(s.healthRouter, s.health)
	if s.registry != nil {
		observability.RegisterMetricsEndpoint(s.healthRouter, s.registry)
	}
}

func (s *Server) redisClient() *redis.Client {
	if s.backend.Redis == nil {
		return nil
	}
	return s.backend.Redis.GetClient()
}

// Seed registers the built-in resources, then applies the configured seed
// file once
func (s *Server) Seed(ctx context.Context) error {
	result, err := s.resources.Seed(ctx, rbac.DefaultSeed())
	if err != nil {
		return fmt.Errorf("failed to seed built-in resources: %w", err)
	}
	s.logger.WithField("created", result.Created).Debug("Built-in resources seeded")

	if s.config.Seed.Path == "" {
		return nil
	}
	if s.seedWatcher != nil {
		_, err = s.seedWatcher.Apply(ctx)
		return err
	}

	seed, err := rbac.LoadSeedFile(s.config.Seed.Path)
	if err != nil {
		return err
	}
	result, err = s.resources.Seed(ctx, seed)
	if err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"path":      s.config.Seed.Path,
		"created":   result.Created,
		"updated":   result.Updated,
		"unchanged": result.Unchanged,
	}).Info("Seed file applied")
	return nil
}

// Run seeds the registry and serves both listeners until ctx is cancelled
// or a listener fails. The API server is normally stopped by the shutdown
// manager; cancelling ctx stops whatever is still running.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Seed(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if s.localLimiter != nil {
		s.localLimiter.StartCleanup(gctx)
	}
	if s.seedWatcher != nil {
		g.Go(func() error {
			return s.seedWatcher.Run(gctx)
		})
	}
	if s.metrics != nil && s.backend.DB != nil {
		g.Go(func() error {
			s.collectDBStats(gctx, 15*time.Second)
			return nil
		})
	}

	g.Go(func() error {
		s.logger.Infof("API server listening on %s", s.httpServer.Addr)
		return serve(s.httpServer)
	})
	g.Go(func() error {
		s.logger.Infof("Health server listening on %s", s.healthServer.Addr)
		return serve(s.healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(
			s.healthServer.Shutdown(shutdownCtx),
			s.httpServer.Shutdown(shutdownCtx),
		)
	})

	return g.Wait()
}

// collectDBStats copies pool statistics into the gauges until ctx is done
func (s *Server) collectDBStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.metrics.RecordDBStats(s.backend.DB.Stats())
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server on %s failed: %w", srv.Addr, err)
	}
	return nil
}

// Close flushes and closes the audit sinks
func (s *Server) Close() error {
	return s.audit.Close()
}

// Handler returns the API handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// HealthHandler returns the health and metrics handler
func (s *Server) HealthHandler() http.Handler {
	return s.healthRouter
}

// HTTPServer returns the API server for the shutdown manager
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// Roles returns the role service
func (s *Server) Roles() *rbac.Service {
	return s.roles
}

// Resources returns the resource registry service
func (s *Server) Resources() *rbac.ResourceService {
	return s.resources
}

// Tokens returns the token manager
func (s *Server) Tokens() *auth.TokenManager {
	return s.tokens
}

// NewAuditLogger fans events out to the sinks enabled in cfg. db may be nil
// when storage is not SQL, metrics when metrics are disabled.
func NewAuditLogger(cfg config.AuditConfig, db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) (audit.Logger, error) {
	if !cfg.Enabled {
		return audit.NoOpLogger{}, nil
	}

	var sinks []audit.Logger
	if cfg.Database && db != nil {
		dbLogger, err := audit.NewDBLogger(db)
		if err != nil {
			return nil, fmt.Errorf("failed to create database audit logger: %w", err)
		}
		sinks = append(sinks, dbLogger)
	}
	if cfg.FilePath != "" {
		fileCfg := audit.DefaultFileLoggerConfig()
		fileCfg.BasePath = cfg.FilePath
		fileLogger, err := audit.NewFileLogger(fileCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create file audit logger: %w", err)
		}
		sinks = append(sinks, fileLogger)
	}
	if cfg.Log {
		sinks = append(sinks, audit.NewLogLogger(logger))
	}

	if len(sinks) == 0 {
		return audit.NoOpLogger{}, nil
	}
	multi := audit.NewMultiLogger(logger, sinks...)
	if metrics != nil {
		multi.SetMetrics(metrics)
	}
	return multi, nil
}
