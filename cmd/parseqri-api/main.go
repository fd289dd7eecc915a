package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parseqri/parseqri/internal/api"
	catalogpostgres "github.com/parseqri/parseqri/internal/catalog/postgres"
	"github.com/parseqri/parseqri/internal/config"
	"github.com/parseqri/parseqri/internal/inference"
	"github.com/parseqri/parseqri/internal/observability"
	duckdbengine "github.com/parseqri/parseqri/internal/query/duckdb"
	"github.com/parseqri/parseqri/internal/schema"
	s3store "github.com/parseqri/parseqri/internal/storage/s3"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", slog.Any("error", err))
	}
	cfg, err := config.LoadFromEnv("parseqri-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	catalogDB, err := catalogpostgres.Open(context.Background(), catalogpostgres.DBConfig{
		DSN:              cfg.Catalog.DSN,
		ApplicationName:  cfg.Service.Name,
		MaxOpenConns:     cfg.Catalog.MaxOpenConns,
		MaxIdleConns:     cfg.Catalog.MaxIdleConns,
		ConnMaxIdleTime:  cfg.Catalog.ConnMaxIdleTime,
		ConnMaxLifetime:  cfg.Catalog.ConnMaxLifetime,
		StatementTimeout: cfg.Catalog.StatementTimeout,
	})
	if err != nil {
		logger.Error("failed to open catalog db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = catalogDB.Close() }()

	catalogRepo := catalogpostgres.NewRepository(catalogDB)
	objectStore, err := s3store.New(context.Background(), s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
	if err != nil {
		logger.Error("failed to initialize object store", slog.Any("error", err))
		os.Exit(1)
	}
	queryEngine := duckdbengine.NewEngine(objectStore)
	resolver, err := schema.NewResolver(catalogRepo, queryEngine, schema.Options{
		CacheTTL: cfg.Pipeline.SchemaCacheTTL,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("failed to initialize schema resolver", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metadataStore, err := openMetadataStore(cfg, logger)
	if err != nil {
		logger.Error("failed to open metadata index", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = metadataStore.Close() }()

	cache, err := openQueryCache(cfg, catalogDB, logger)
	if err != nil {
		logger.Error("failed to open query cache", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = cache.Close() }()

	deps := api.Dependencies{
		Logger:   logger,
		Catalog:  catalogRepo,
		Objects:  objectStore,
		Schemas:  resolver,
		Metadata: metadataStore,
		Readiness: api.CombineReadinessChecks(
			catalogRepo.HealthCheck,
			api.CheckObjectStoreConfig(cfg),
		),
		DependencyTimeout: time.Second,
		MaxUploadBytes:    cfg.Pipeline.MaxUploadBytes,
	}

	orchestrator, err := buildPipeline(cfg, pipelineParts{
		catalog:  catalogRepo,
		engine:   queryEngine,
		resolver: resolver,
		metadata: metadataStore,
		cache:    cache,
	}, logger)
	switch {
	case err == nil:
		deps.Pipeline = orchestrator
	case errors.Is(err, inference.ErrDisabled):
		logger.Warn("model inference is disabled; question answering is unavailable")
	default:
		logger.Error("failed to build query pipeline", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.Auth.Required {
		middleware, err := authMiddleware(cfg, logger)
		if err != nil {
			logger.Error("failed to configure authentication", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = middleware
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}
