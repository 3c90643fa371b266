// Package main is the entry point for the ria domain service host.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/ria/internal/catalog"
	"github.com/pitabwire/ria/internal/changeset"
	"github.com/pitabwire/ria/internal/config"
	"github.com/pitabwire/ria/internal/observability"
	"github.com/pitabwire/ria/internal/rolepolicy"
	"github.com/pitabwire/ria/internal/sample"
	"github.com/pitabwire/ria/internal/store"
	"github.com/pitabwire/ria/internal/transport"
	"github.com/pitabwire/ria/internal/typesys"
	"github.com/pitabwire/ria/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "", "path to configuration file (defaults apply when empty)")
	seedTenant := flag.String("seed-tenant", "", "seed the sample catalog for this tenant")
	seed := flag.Bool("seed", false, "seed the sample catalog before serving")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "ria-server", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Build the type universe, catalog, and entity store.
	universe := typesys.NewUniverse()
	cat := catalog.New(universe)
	metrics.WatchCache("descriptions", cat.CacheStats)

	docs, docsCloser, err := buildEntityStore(ctx, cfg.Store, logger)
	if err != nil {
		logger.Error("entity store initialization failed", zap.Error(err))
		return 1
	}
	entities := store.NewEntities(docs, universe)

	// Step 5: Initialize idempotency store (optional).
	idempotencyStore, idempotencyCloser := buildIdempotencyStore(cfg.Idempotency, logger)

	// Step 6: Build the reconciler and service host.
	recOpts := []changeset.Option{
		changeset.WithConflictDetector(entities),
		changeset.WithPersister(entities),
		changeset.WithLogger(logger),
		changeset.WithObserver(transport.SubmitMetrics{Metrics: metrics}),
	}
	if idempotencyStore != nil {
		recOpts = append(recOpts, changeset.WithIdempotencyStore(idempotencyStore, cfg.Idempotency.Store.DefaultTTL))
	}
	reconciler := changeset.New(cat, recOpts...)

	host := transport.NewHost(cat, reconciler, transport.WithMetrics(metrics), transport.WithHostLogger(logger))
	if err := sample.Register(host, entities); err != nil {
		logger.Error("service registration failed", zap.Error(err))
		return 1
	}
	if *seed {
		seedCtx := model.WithRequestContext(ctx, &model.RequestContext{TenantID: *seedTenant})
		if err := sample.Seed(seedCtx, entities); err != nil {
			logger.Warn("sample seed skipped", zap.Error(err))
		}
	}

	// Step 7: Build HTTP router.
	readiness := observability.ReadinessChecks{
		ServicesRegistered: host.HasServices,
		EntityStore:        entities,
	}
	if hc, ok := idempotencyStore.(observability.HealthChecker); ok {
		readiness.IdempotencyStore = hc
	}

	var authenticate func(http.Handler) http.Handler
	if cfg.Identity.Enabled {
		jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
		authenticate = transport.JWTAuthenticator(cfg.Identity, jwks)
	} else {
		logger.Warn("identity disabled, serving anonymous requests only")
	}

	var roles transport.RoleResolver
	if cfg.Identity.RolePolicyFile != "" {
		policy, err := rolepolicy.NewStaticPolicy(cfg.Identity.RolePolicyFile)
		if err != nil {
			logger.Error("role policy initialization failed", zap.Error(err))
			return 1
		}
		roles = rolepolicy.NewResolver(policy, cfg.Identity.RoleCacheTTL)
		logger.Info("role policy loaded", zap.String("path", cfg.Identity.RolePolicyFile))
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Host:         host,
		Metrics:      metrics,
		Readiness:    readiness,
		Authenticate: authenticate,
		Roles:        roles,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 8: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("services", len(host.Descriptions())),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Close stores.
	if docsCloser != nil {
		docsCloser()
	}
	if idempotencyCloser != nil {
		idempotencyCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildEntityStore creates the document store based on config.
func buildEntityStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory entity store")
		return store.NewMemoryStore(), nil, nil
	case "postgres":
		pool, err := store.OpenPool(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		pg := store.NewPgStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("using postgres entity store")
		return pg, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported entity store driver: %q", cfg.Driver)
	}
}

// buildIdempotencyStore creates the idempotency store based on config.
func buildIdempotencyStore(cfg config.IdempotencyConfig, logger *zap.Logger) (changeset.IdempotencyStore, func()) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Store.Driver {
	case "redis":
		addr := os.Getenv(cfg.Store.AddrEnv)
		if addr == "" {
			logger.Warn("redis address not configured, using in-memory idempotency store",
				zap.String("env", cfg.Store.AddrEnv))
			return changeset.NewMemoryIdempotencyStore(), nil
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.Store.DB})
		logger.Info("using redis idempotency store", zap.String("addr", addr))
		return changeset.NewRedisIdempotencyStore(client), func() { client.Close() }
	default:
		logger.Info("using in-memory idempotency store")
		return changeset.NewMemoryIdempotencyStore(), nil
	}
}
