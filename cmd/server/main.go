package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	appintegration "github.com/meschain/syncengine/internal/application/integration"
	"github.com/meschain/syncengine/internal/infrastructure/auth"
	"github.com/meschain/syncengine/internal/infrastructure/cache"
	"github.com/meschain/syncengine/internal/infrastructure/config"
	"github.com/meschain/syncengine/internal/infrastructure/event"
	"github.com/meschain/syncengine/internal/infrastructure/logger"
	"github.com/meschain/syncengine/internal/infrastructure/migration"
	"github.com/meschain/syncengine/internal/infrastructure/persistence"
	"github.com/meschain/syncengine/internal/infrastructure/scheduler"
	"github.com/meschain/syncengine/internal/infrastructure/telemetry"
	"github.com/meschain/syncengine/internal/interfaces/http/middleware"
	"github.com/meschain/syncengine/internal/interfaces/http/router"
	"github.com/meschain/syncengine/migrations"
)

//	@title			Marketplace Sync Engine API
//	@version		1.0
//	@description	Operator API of the multi-marketplace synchronization engine
//	@BasePath		/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// .env is optional; real deployments set SYNC_* variables directly
	_ = godotenv.Load()

	loader := config.NewLoader()
	cfg, err := loader.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("version", version),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Telemetry: OTLP metrics and traces, Prometheus for /metrics
	telemetryCfg := telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		ServiceVersion:    version,
		Insecure:          cfg.Telemetry.Insecure,
		ExportInterval:    cfg.Telemetry.ExportInterval,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
	}
	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetryCfg, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize metrics", zap.Error(err))
	}
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetryCfg, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	traceService := ""
	if cfg.Telemetry.Enabled {
		traceService = cfg.Telemetry.ServiceName
	}
	meter := meterProvider.Meter("github.com/meschain/syncengine")
	syncMetrics, err := telemetry.NewSyncMetrics(meter)
	if err != nil {
		log.Fatal("Failed to create sync metrics", zap.Error(err))
	}
	promMetrics := telemetry.NewPromMetrics()
	observer := telemetry.NewSyncObserver(syncMetrics, promMetrics)

	if cfg.Database.AutoMigrate {
		if err := applyMigrations(cfg, log.Logger); err != nil {
			log.Fatal("Failed to apply migrations", zap.Error(err))
		}
	}

	gormLog := logger.NewGormLogger(log.Logger, logger.MapGormLogLevel(cfg.Log.Level), cfg.Database.SlowThreshold)
	db, err := persistence.NewDatabaseWithCustomLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	storeMetrics, err := telemetry.NewStoreMetrics(meter, cfg.Database.SlowThreshold, log.Logger)
	if err != nil {
		log.Fatal("Failed to create store metrics", zap.Error(err))
	}
	if err := db.DB.Use(storeMetrics); err != nil {
		log.Fatal("Failed to register store metrics", zap.Error(err))
	}
	if err := telemetry.RegisterDBTracing(db.DB, telemetry.DBTracingConfig{
		Enabled: cfg.Telemetry.Enabled && cfg.Telemetry.DBTraceEnabled,
		DBName:  cfg.Database.DBName,
	}, log.Logger); err != nil {
		log.Fatal("Failed to register store tracing", zap.Error(err))
	}
	log.Info("Database connected successfully")

	// Repositories
	mappingRepo := persistence.NewGormProductMappingRepository(db.DB)
	orderMappingRepo := persistence.NewGormOrderMappingRepository(db.DB)
	pendingRepo := persistence.NewGormPendingEventRepository(db.DB, persistence.WithProcessingLease(cfg.Pending.ProcessingLease))
	syncLogRepo := persistence.NewGormSyncLogRepository(db.DB)
	catalogRepo := persistence.NewGormCatalogRepository(db.DB)

	dedup, err := cache.NewDedupStoreFactory(cfg.Redis,
		cache.WithLogger(log.Logger),
		cache.WithInMemoryFallback(cfg.App.Env != "production"),
	).CreateStore(ctx)
	if err != nil {
		log.Fatal("Failed to create webhook dedup store", zap.Error(err))
	}

	alerts := event.NewAlertPublisher(cfg.Kafka.Brokers, cfg.Kafka.AlertTopic, log.Logger)

	orchestrator := appintegration.NewOrchestrator(appintegration.Dependencies{
		Mappings:    mappingRepo,
		Categories:  mappingRepo,
		Orders:      orderMappingRepo,
		Catalog:     catalogRepo,
		OrderWriter: catalogRepo,
		SyncLog:     syncLogRepo,
		Pending:     pendingRepo,
		Alerts:      alerts,
	}, orchestratorConfig(cfg),
		appintegration.WithLogger(log.Named("sync")),
		appintegration.WithObserver(observer),
	)

	credentials := config.NewCredentialResolver(loader.Viper())
	builder := &runtimeBuilder{
		credentials: credentials,
		syncLog:     syncLogRepo,
		observer:    observer,
		logger:      log.Named("marketplace"),
	}
	orchestrator.Reload(builder.Build(ctx, cfg))
	orchestrator.Start(ctx)

	ingestor := appintegration.NewWebhookIngestor(orchestrator, dedup, appintegration.WebhookConfig{
		DedupTTL:           cfg.Webhook.DedupTTL,
		TimestampTolerance: cfg.Webhook.TimestampTolerance,
	}, log.Logger, appintegration.WithWebhookObserver(observer))

	pollScheduler, err := scheduler.NewPollScheduler(scheduler.PollSchedulerConfig{
		Enabled:     true,
		MinInterval: cfg.Sync.PollMinInterval,
		InitialPoll: true,
	}, orchestrator, nil, log.Named("scheduler"))
	if err != nil {
		log.Fatal("Failed to create poll scheduler", zap.Error(err))
	}
	if err := pollScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start poll scheduler", zap.Error(err))
	}

	var replayer *event.PendingReplayer
	if cfg.Pending.ProcessorEnabled {
		replayer = event.NewPendingReplayer(pendingRepo, orchestrator, event.PendingReplayerConfig{
			BatchSize:        cfg.Pending.BatchSize,
			PollInterval:     cfg.Pending.PollInterval,
			MaxRetries:       cfg.Pending.MaxRetries,
			CleanupEnabled:   cfg.Pending.CleanupEnabled,
			CleanupRetention: cfg.Pending.CleanupRetention,
		}, nil, log.Named("pending"))
		if err := replayer.Start(ctx); err != nil {
			log.Fatal("Failed to start pending replayer", zap.Error(err))
		}
	} else {
		log.Warn("Pending event replayer disabled, parked events stay parked")
	}

	// Hot reload: marketplaces, credentials and log level
	watcher := config.NewWatcher(loader, cfg, func(next *config.Config) {
		log.SetLevel(next.Log.Level)
		orchestrator.Reload(builder.Build(ctx, next))
		pollScheduler.Reload()
	}, log.Logger)
	watcher.Start(ctx)

	engine, err := router.New(router.Config{
		Sync:     orchestrator,
		Ingestor: ingestor,
		Store:    db,
		Metrics:  promMetrics.Handler(),
		JWT:      auth.NewJWTService(cfg.Auth),
		CORS: middleware.CORSConfig{
			AllowOrigins:  cfg.HTTP.CORSAllowOrigins,
			AllowMethods:  cfg.HTTP.CORSAllowMethods,
			AllowHeaders:  cfg.HTTP.CORSAllowHeaders,
			ExposeHeaders: []string{middleware.RequestIDHeader},
			MaxAge:        86400,
		},
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		WebhookMaxBody: cfg.Webhook.MaxBodySize,
		TrustedProxies: cfg.HTTP.TrustedProxies,
		TraceService:   traceService,
		Version:        version,
		Logger:         log.Logger,
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

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), watcher.Current().HTTP.ShutdownTimeout)
	defer cancel()

	// Stop intake first, then the producers of runs, then the runs themselves.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}
	if err := pollScheduler.Stop(shutdownCtx); err != nil {
		log.Warn("Poll scheduler stop timed out", zap.Error(err))
	}
	if replayer != nil {
		if err := replayer.Stop(shutdownCtx); err != nil {
			log.Warn("Pending replayer stop timed out", zap.Error(err))
		}
	}
	if err := orchestrator.Stop(shutdownCtx); err != nil {
		log.Warn("In-flight sync runs did not finish", zap.Error(err))
	}
	stop()

	if err := alerts.Close(); err != nil {
		log.Warn("Failed to close alert publisher", zap.Error(err))
	}
	if closer, ok := dedup.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Warn("Failed to close dedup store", zap.Error(err))
		}
	}
	if err := meterProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to flush metrics", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to flush traces", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}

func orchestratorConfig(cfg *config.Config) appintegration.Config {
	return appintegration.Config{
		WebhookTimeout:   cfg.Sync.WebhookDeadline,
		ManualRunTimeout: cfg.Sync.ManualRunTimeout,
		OrderLookback:    cfg.Sync.OrderLookback,
		OrderOverlap:     cfg.Sync.OrderOverlap,
		DefaultQueueSize: cfg.Sync.QueueSize,
		MaxOrderPages:    cfg.Sync.MaxOrderPages,
	}
}

// applyMigrations runs the embedded migrations on a dedicated connection;
// the migrator closes the connection it is given.
func applyMigrations(cfg *config.Config, log *zap.Logger) error {
	sqlDB, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return err
	}
	m, err := migration.New(sqlDB, migrations.FS, log)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() {
		_ = m.Close()
	}()

	started := time.Now()
	if err := m.Up(); err != nil {
		return err
	}
	log.Info("Schema ready", zap.Duration("took", time.Since(started)))
	return nil
}
