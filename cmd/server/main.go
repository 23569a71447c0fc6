package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	appentitlement "github.com/saasdash/backend/internal/application/entitlement"
	"github.com/saasdash/backend/internal/application/guard"
	appsubscription "github.com/saasdash/backend/internal/application/subscription"
	"github.com/saasdash/backend/internal/application/usage"
	"github.com/saasdash/backend/internal/domain/entitlement"
	"github.com/saasdash/backend/internal/infrastructure/auth"
	"github.com/saasdash/backend/internal/infrastructure/cache"
	"github.com/saasdash/backend/internal/infrastructure/config"
	"github.com/saasdash/backend/internal/infrastructure/counter"
	"github.com/saasdash/backend/internal/infrastructure/logger"
	"github.com/saasdash/backend/internal/infrastructure/persistence"
	"github.com/saasdash/backend/internal/infrastructure/telemetry"
	"github.com/saasdash/backend/internal/interfaces/http/handler"
	"github.com/saasdash/backend/internal/interfaces/http/middleware"
	"github.com/saasdash/backend/internal/interfaces/http/router"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log, err := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,

		SampleInitial:    cfg.Log.SampleInitial,
		SampleThereafter: cfg.Log.SampleThereafter,
	}, cfg.App.Name)
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting metering engine",
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	otelProviders, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		Insecure:          cfg.Telemetry.Insecure,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		MetricsInterval:   cfg.Telemetry.MetricsInterval,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize telemetry", zap.Error(err))
	}
	meter := otelProviders.Meter(telemetry.TracerName)
	engineMetrics, err := telemetry.NewEngineMetrics(meter, log)
	if err != nil {
		log.Fatal("Failed to register engine metrics", zap.Error(err))
	}

	// Database
	gormLog := logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level), cfg.Telemetry.DBSlowQueryThresh)
	db, err := persistence.Open(ctx, &cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	if err := telemetry.InstrumentDB(db.DB, telemetry.DBTracing{
		Enabled:       cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		IncludeVars:   cfg.Telemetry.DBLogFullSQL,
		SlowThreshold: cfg.Telemetry.DBSlowQueryThresh,
		System:        "postgresql",
	}, log); err != nil {
		log.Fatal("Failed to register database tracing", zap.Error(err))
	}
	// run cmd/migrate first; the server never changes the schema itself
	if err := db.Ready(ctx); err != nil {
		log.Fatal("Database schema is not ready", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Redis backs the counters, the L2 cache tier, invalidation and key revocation
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing redis client", zap.Error(err))
		}
	}()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal("Failed to connect to redis", zap.Error(err))
	}

	// Repositories
	customerRepo := persistence.NewGormCustomerRepository(db.DB)
	subscriptionRepo := persistence.NewGormSubscriptionRepository(db.DB)
	planVersionRepo := persistence.NewGormPlanVersionRepository(db.DB)
	grantRepo := persistence.NewGormGrantRepository(db.DB)
	usageRecordRepo := persistence.NewGormUsageRecordRepository(db.DB)

	// Usage limiter
	var counterStore usage.CounterStore
	closeCounters := func() {}
	switch cfg.Limiter.Store {
	case "memory":
		memStore := counter.NewMemoryStore()
		counterStore = memStore
		closeCounters = func() { _ = memStore.Close() }
		log.Warn("Usage counters are kept in memory; totals are not shared between instances")
	default:
		counterStore = counter.NewRedisStore(redisClient, counter.WithKeyPrefix(cfg.Limiter.KeyPrefix))
	}
	limiter := usage.NewLimiter(usage.Config{
		Shards:           cfg.Limiter.Shards,
		Replicas:         cfg.Limiter.Replicas,
		MailboxSize:      cfg.Limiter.MailboxSize,
		DedupeWindow:     cfg.Limiter.DedupeWindow,
		FlushBatchSize:   cfg.Limiter.FlushBatchSize,
		FlushInterval:    cfg.Limiter.FlushInterval,
		StoreTimeout:     cfg.Limiter.StoreTimeout,
		CounterRetention: cfg.Limiter.CounterRetention,
	}, counterStore, usageRecordRepo,
		usage.WithLogger(log),
		usage.WithRecorder(engineMetrics),
	)
	limiter.Start()

	// Entitlement cache
	invalidator := cache.NewInvalidator(redisClient,
		cache.WithInvalidationChannel(cfg.Cache.InvalidationChannel),
		cache.WithInvalidatorLogger(log),
	)
	nsOptions := []cache.NamespaceOption{
		cache.WithInvalidator(invalidator),
		cache.WithLookupRecorder(engineMetrics),
		cache.WithLogger(log),
	}
	if cfg.Cache.L2Enabled {
		nsOptions = append(nsOptions, cache.WithRedisTier(cache.NewRedisTier(redisClient, cfg.Cache.KeyPrefix)))
	}
	entitlementCache := cache.NewNamespace[[]entitlement.CustomerEntitlement](appentitlement.CacheNamespace, cache.Options{
		FreshTTL:       cfg.Cache.EntitlementFreshTTL,
		StaleTTL:       cfg.Cache.EntitlementStaleTTL,
		LoadTimeout:    cfg.Cache.LoadTimeout,
		RefreshTimeout: cfg.Cache.RefreshTimeout,
		SweepInterval:  cfg.Cache.SweepInterval,
	}, nsOptions...)
	defer entitlementCache.Close()

	// Application services
	resolver := appentitlement.NewResolver(subscriptionRepo, planVersionRepo, grantRepo, limiter,
		appentitlement.WithCache(entitlementCache),
		appentitlement.WithUsageRecords(usageRecordRepo),
		appentitlement.WithLogger(log),
	)
	grantService := appentitlement.NewGrantService(customerRepo, grantRepo, resolver, log)
	subscriptionService := appsubscription.NewService(subscriptionRepo, customerRepo, planVersionRepo, resolver,
		appsubscription.WithLogger(log),
	)
	reportService := usage.NewReportService(usageRecordRepo, usage.ReportTimeouts{
		Fast:     cfg.Analytics.FastTimeout,
		Standard: cfg.Analytics.StandardTimeout,
		Extended: cfg.Analytics.ExtendedTimeout,
	}, log)
	featureGuard := guard.NewFeatureGuard(guard.Config{
		Timeout:  cfg.Guard.Timeout,
		FailOpen: cfg.Guard.FailOpen,
	}, customerRepo, resolver, limiter,
		guard.WithRecorder(engineMetrics),
		guard.WithLogger(log),
	)

	keys := auth.NewAPIKeyService(cfg.APIKey,
		auth.WithRevocationList(auth.NewRedisRevocationList(redisClient, "")),
	)

	// HTTP
	var rateLimiter *middleware.RateLimiter
	if cfg.HTTP.RateLimitEnabled {
		rateLimiter = middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow, cfg.HTTP.RateLimitBurst)
		defer rateLimiter.Stop()
	}

	health := handler.NewHealthHandler(version).
		AddCheck("database", db.Ready).
		AddCheck("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})

	engine, err := router.New(router.Config{
		Handlers: router.Handlers{
			Entitlements:  handler.NewEntitlementHandler(featureGuard, resolver, customerRepo),
			Grants:        handler.NewGrantHandler(grantService),
			Usage:         handler.NewUsageHandler(reportService),
			Subscriptions: handler.NewSubscriptionHandler(subscriptionService, customerRepo),
			Health:        health,
		},
		Verifier:       keys,
		Customers:      customerRepo,
		Logger:         log,
		RateLimiter:    rateLimiter,
		Meter:          meter,
		ServiceName:    cfg.Telemetry.ServiceName,
		TracingEnabled: otelProviders.Enabled(),
		CORS:           middleware.DefaultCORSConfig(),
		TrustedProxies: cfg.HTTP.TrustedProxies,
	})
	if err != nil {
		log.Fatal("Failed to build router", zap.Error(err))
	}

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return invalidator.Run(gctx, nil)
	})
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		// HTTP drains before the limiter
		err := srv.Shutdown(shutdownCtx)
		if stopErr := limiter.Stop(shutdownCtx); stopErr != nil {
			log.Error("Usage limiter did not drain", zap.Error(stopErr))
		}
		closeCounters()
		_ = invalidator.Close()
		if flushErr := otelProviders.Shutdown(shutdownCtx); flushErr != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(flushErr))
		}
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("Server exited with error", zap.Error(err))
		stop()
		os.Exit(1)
	}
	log.Info("Server exited gracefully")
}
