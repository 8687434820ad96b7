// Package middleware provides the HTTP middleware that sits in front of
// every route.
//
// # Components
//
// SessionMiddleware resolves the quill_session cookie (or a Bearer token)
// into a session.State stored on the request context:
//
//	router.Use(middleware.NewSessionMiddleware(manager, cfg.Auth.SecureCookies, logger).Handler)
//
// Guard applies the page route rules: legacy aliases are rewritten first,
// then authentication, admin and auth-form redirects are evaluated:
//
//	router.Use(middleware.Guard(logger))
//
// RequireSession and RequireAdmin protect JSON endpoints with 401 and 403
// responses instead of redirects.
//
// LoginLimiter throttles sign-in attempts per client IP. It counts in
// Redis when configured and falls back to an in-process token bucket:
//
//	limiter := middleware.NewLoginLimiter(redisClient, middleware.LoginRateLimitConfig(10, time.Minute), logger)
//	router.Handle("/api/auth/login", limiter.Handler(loginHandler))
//
// # Related Packages
//
//   - pkg/session: session state resolution
//   - pkg/access: the policy the guard and handlers apply
package middleware
