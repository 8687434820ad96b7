package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/quill/pkg/access"
	"github.com/platinummonkey/quill/pkg/api"
	"github.com/platinummonkey/quill/pkg/articles"
	"github.com/platinummonkey/quill/pkg/async"
	"github.com/platinummonkey/quill/pkg/audit"
	"github.com/platinummonkey/quill/pkg/auth"
	"github.com/platinummonkey/quill/pkg/backend"
	"github.com/platinummonkey/quill/pkg/config"
	"github.com/platinummonkey/quill/pkg/media"
	"github.com/platinummonkey/quill/pkg/membership"
	"github.com/platinummonkey/quill/pkg/middleware"
	"github.com/platinummonkey/quill/pkg/observability"
	"github.com/platinummonkey/quill/pkg/profiles"
	"github.com/platinummonkey/quill/pkg/session"
	"github.com/platinummonkey/quill/pkg/store"
)

var version = "dev"

func main() {
	migrate := flag.Bool("migrate", false, "Run database migrations before serving")
	flag.Parse()

	cfg, cfgErr := config.LoadConfig()
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		handler  http.Handler
		shutdown []closer
	)

	if cfgErr != nil {
		logger.WithError(cfgErr).Error("starting in diagnostic mode")
		handler = api.NewDiagnosticHandler(cfgErr)
	} else {
		h, closers, err := build(ctx, cfg, *migrate, logger)
		if err != nil {
			logger.WithError(err).Error("backend unavailable, starting in diagnostic mode")
			h = api.NewDiagnosticHandler(err)
		}
		handler, shutdown = h, closers
	}

	handler = cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}).Handler(handler)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, "quill")
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdownManager := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	for _, c := range shutdown {
		shutdownManager.Register(c.name, c.fn)
	}
	shutdownManager.Register("context", func(context.Context) error {
		cancel()
		return nil
	})

	go func() {
		logger.Infof("Starting quill server on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("server failed")
			os.Exit(1)
		}
	}()

	if err := shutdownManager.WaitForShutdown(); err != nil {
		logger.WithError(err).Error("shutdown failed")
		os.Exit(1)
	}
	logger.Info("quill stopped")
}

type closer struct {
	name string
	fn   observability.ShutdownFunc
}

// build connects the backends and wires every service into the HTTP
// server. The returned closers run in order on shutdown.
func build(ctx context.Context, cfg *config.Config, migrate bool, logger *observability.Logger) (http.Handler, []closer, error) {
	telemetry, err := observability.StartTelemetry(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		logger.WithError(err).Warn("OpenTelemetry unavailable, continuing without tracing")
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	client, err := backend.New(ctx, cfg, metrics, logger)
	if err != nil {
		_ = telemetry.Shutdown(context.Background())
		return nil, nil, err
	}
	if migrate {
		if err := store.RunMigrations(ctx, client.DB, logger); err != nil {
			_ = client.Close()
			return nil, nil, err
		}
	}

	tasks := async.NewTasks(logger)
	bus := auth.NewBus()

	auditLogger, err := audit.NewDBLogger(client.DB)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}

	authService := auth.NewService(client.Store, auth.Config{
		Secret:     cfg.Auth.SessionSecret,
		SessionTTL: cfg.Auth.SessionTTL,
	}, bus, auditLogger, tasks, metrics, logger)

	var lookups session.LookupCache = session.NewMemoryLookupCache(cfg.Cache.LookupTTL, metrics)
	if client.Redis != nil {
		lookups = session.NewRedisLookupCache(client.Redis, cfg.Cache.LookupTTL, metrics)
	}
	sessions := session.NewManager(authService, client.Store, lookups, logger)
	sessions.Subscribe(bus)

	var images *media.Service
	var avatarStore profiles.Images
	if client.Objects != nil {
		images = media.NewService(client.Objects, cfg.ObjectStore.PublicURL, metrics, logger)
		avatarStore = images
	}

	articleService := articles.NewService(client.Store, articles.Options{
		TTL:        cfg.Cache.ArticleTTL,
		EditPolicy: access.EditPolicyFromFlag(cfg.Auth.EditRechecksPlan),
		Audit:      auditLogger,
		Tasks:      tasks,
		Metrics:    metrics,
		Logger:     logger,
	})
	profileService := profiles.NewService(client.Store, avatarStore, cfg.Cache.ArticleTTL, tasks, metrics, logger)
	membershipService := membership.NewService(client.Store, bus, auditLogger, tasks, metrics, logger)

	sessions.OnSignOut(articleService.DropViewer)
	sessions.OnSignOut(profileService.Forget)
	// Cached article lists were filtered under the old role or plan.
	bus.Subscribe(func(ev auth.Event) {
		if ev.Kind == auth.EventRoleChanged || ev.Kind == auth.EventPlanChanged {
			articleService.DropViewer(ev.UserID)
		}
	})

	trustedProxies, err := middleware.ParseTrustedProxies(cfg.Auth.TrustedProxies)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	loginLimiter := middleware.NewLoginLimiter(client.Redis,
		middleware.LoginRateLimitConfig(cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow), logger).
		TrustProxies(trustedProxies)
	loginLimiter.StartCleanup(ctx)

	deps := api.Deps{
		Auth:          authService,
		Sessions:      sessions,
		Articles:      articleService,
		Profiles:      profileService,
		Membership:    membershipService,
		LoginLimiter:  loginLimiter,
		Health:        observability.NewHealthChecker(client.DB, client.Redis, client.ObjectPinger(), metrics, version),
		SecureCookies: cfg.Auth.SecureCookies,
		Logger:        logger,
	}
	if images != nil {
		deps.Images = images
	}
	if registry != nil {
		deps.Metrics = observability.MetricsHandler(registry)
	}
	if cfg.OIDC.Enabled() {
		oidcFlow, err := auth.NewOIDC(ctx, cfg.OIDC, cfg.Auth.SessionSecret)
		if err != nil {
			logger.WithError(err).Warn("single sign-on unavailable")
		} else {
			deps.OIDC = oidcFlow
		}
	}

	closers := []closer{
		{"background tasks", tasks.Wait},
		{"opentelemetry", telemetry.Shutdown},
		{"backend", func(context.Context) error { return client.Close() }},
	}
	return api.NewServer(deps, metrics), closers, nil
}
