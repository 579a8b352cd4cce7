// Package middleware provides HTTP middleware for authentication and rate
// limiting.
//
// AuthMiddleware validates the bearer token and stores the caller's
// auth.AuthContext in the request context:
//
//	router.Use(middleware.NewAuthMiddleware(tokenManager, false).Handler)
//
// RateLimitMiddleware limits authenticated principals by user id and
// anonymous callers by client IP. Limiters are either in-process token
// buckets or Redis fixed windows shared by every instance:
//
//	limiter := middleware.NewDistributedRateLimiter(redisClient, middleware.PerPrincipalRateLimitConfig(), "")
//	rl := middleware.NewRateLimitMiddleware("redis", limiter, anonLimiter, logger)
//	router.Use(rl.Handler)
//
// Redis errors fail open unless SetFailOpen(false) is called.
//
// Authorization against role grants lives in pkg/rbac.
package middleware
