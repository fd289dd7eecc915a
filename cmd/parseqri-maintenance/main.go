package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	catalogpostgres "github.com/parseqri/parseqri/internal/catalog/postgres"
	"github.com/parseqri/parseqri/internal/config"
	"github.com/parseqri/parseqri/internal/maintenance"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/querycache"
	s3store "github.com/parseqri/parseqri/internal/storage/s3"
)

func main() {
	once := flag.Bool("once", false, "run one integrity check and cache prune, then exit")
	tenantID := flag.String("tenant-id", "", "limit the integrity check to one tenant")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("failed to read .env file", slog.Any("error", err))
	}
	cfg, err := config.LoadFromEnv("parseqri-maintenance")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)
	db, err := catalogpostgres.Open(context.Background(), catalogpostgres.DBConfig{
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
	defer func() { _ = db.Close() }()

	store, err := s3store.New(context.Background(), s3store.Config{
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

	svc := &maintenance.Service{
		Catalog:     catalogpostgres.NewRepository(db),
		ObjectStore: store,
		Config: maintenance.Config{
			IntegrityInterval:  cfg.Maintenance.IntegrityInterval,
			CachePruneInterval: cfg.Maintenance.CachePruneInterval,
		},
		Logger: logger,
	}
	// Memory, badger and redis expire entries on their own.
	if cfg.Cache.Backend == config.CacheBackendPostgres && cfg.Cache.TTL > 0 {
		svc.Cache = querycache.NewPostgresStore(db, cfg.Cache.TTL)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *once {
		summary, err := svc.RunIntegrityCheckOnce(ctx, *tenantID)
		if err != nil {
			logger.Error("integrity check failed", slog.Any("error", err), slog.Any("summary", summary))
			os.Exit(1)
		}
		deleted, err := svc.RunCachePruneOnce(ctx)
		if err != nil {
			logger.Error("query cache prune failed", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("maintenance run completed", slog.Any("summary", summary), slog.Int64("cache_rows_pruned", deleted))
		return
	}

	logger.Info("maintenance worker started")
	if err := svc.Run(ctx); err != nil {
		logger.Error("maintenance worker failed", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("maintenance worker stopped")
}
