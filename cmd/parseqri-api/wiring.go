package main

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/parseqri/parseqri/internal/auth"
	catalogpostgres "github.com/parseqri/parseqri/internal/catalog/postgres"
	"github.com/parseqri/parseqri/internal/config"
	"github.com/parseqri/parseqri/internal/format"
	"github.com/parseqri/parseqri/internal/inference"
	"github.com/parseqri/parseqri/internal/intent"
	"github.com/parseqri/parseqri/internal/metadata"
	"github.com/parseqri/parseqri/internal/metadata/chromem"
	"github.com/parseqri/parseqri/internal/nl2sql"
	"github.com/parseqri/parseqri/internal/pipeline"
	"github.com/parseqri/parseqri/internal/query"
	"github.com/parseqri/parseqri/internal/querycache"
	"github.com/parseqri/parseqri/internal/schema"
	"github.com/parseqri/parseqri/internal/sqlcheck"
)

const (
	hashEmbeddingDims = 256
	badgerGCInterval  = 5 * time.Minute
)

type pipelineParts struct {
	catalog  *catalogpostgres.Repository
	engine   query.Engine
	resolver *schema.Resolver
	metadata metadata.Store
	cache    querycache.Store
}

func openQueryCache(cfg config.Config, catalogDB *sql.DB, logger *slog.Logger) (querycache.Store, error) {
	switch cfg.Cache.Backend {
	case config.CacheBackendMemory:
		return querycache.NewMemoryStore(cfg.Cache.MaxEntries, cfg.Cache.TTL), nil
	case config.CacheBackendBadger:
		return querycache.OpenBadger(querycache.BadgerConfig{
			Path:       cfg.Cache.Path,
			TTL:        cfg.Cache.TTL,
			GCInterval: badgerGCInterval,
			Logger:     logger,
		})
	case config.CacheBackendRedis:
		return querycache.NewRedisStore(cfg.Cache.RedisURL, cfg.Cache.TTL)
	case config.CacheBackendPostgres:
		return querycache.NewPostgresStore(catalogDB, cfg.Cache.TTL), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

func openMetadataStore(cfg config.Config, logger *slog.Logger) (*chromem.Store, error) {
	embed := metadata.HashEmbedder(hashEmbeddingDims)
	if cfg.Metadata.Embedder == config.EmbedderModel {
		embedder, err := inference.NewEmbedder(inference.EmbedderConfigFor(cfg.AI))
		if err != nil {
			return nil, fmt.Errorf("metadata embedder: %w", err)
		}
		embed = metadata.LangChainEmbedder(embedder)
	}
	return chromem.Open(chromem.Config{
		Path:     cfg.Metadata.Path,
		Compress: cfg.Metadata.Compress,
		Embed:    embed,
		Logger:   logger,
	})
}

// buildPipeline returns inference.ErrDisabled when no model backend is configured.
func buildPipeline(cfg config.Config, parts pipelineParts, logger *slog.Logger) (*pipeline.Orchestrator, error) {
	model, err := inference.New(cfg.AI, logger)
	if err != nil {
		return nil, err
	}

	generator, err := nl2sql.NewGenerator(model, nl2sql.Options{
		Sampler:    parts.resolver,
		SampleRows: cfg.Pipeline.SchemaSampleRows,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("sql generator: %w", err)
	}
	executor, err := query.NewTenantExecutor(parts.catalog, parts.engine, cfg.Pipeline.RowLimit, logger)
	if err != nil {
		return nil, fmt.Errorf("query executor: %w", err)
	}

	var reviewer inference.Model
	if cfg.Pipeline.ValidatorSecondOpinion {
		reviewer = model
	}
	formatOpts := format.Options{Logger: logger}
	if cfg.Pipeline.ModelPhrasing {
		formatOpts.Model = model
	}

	return pipeline.New(pipeline.Dependencies{
		Cache:     parts.cache,
		Metadata:  parts.metadata,
		Intent:    intent.New(model, logger),
		Schema:    parts.resolver,
		Tables:    parts.resolver,
		Generator: generator,
		Validator: sqlcheck.New(reviewer, logger),
		Executor:  executor,
		Formatter: format.New(formatOpts),
		Logger:    logger,
	}, pipeline.Options{
		StageTimeout:   cfg.Pipeline.StageTimeout,
		ExecuteTimeout: cfg.Pipeline.ExecuteTimeout,
		MetadataTopK:   cfg.Metadata.TopK,
	})
}

func authMiddleware(cfg config.Config, logger *slog.Logger) (func(http.Handler) http.Handler, error) {
	static, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
	if err != nil {
		return nil, err
	}
	validators := auth.Chain{static}
	if cfg.Auth.JWTSecret != "" {
		jwtValidator, err := auth.NewJWTValidator(cfg.Auth.JWTSecret)
		if err != nil {
			return nil, err
		}
		validators = append(validators, jwtValidator)
	}
	if cfg.Auth.StaticKeys == "" && cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth is required but no static keys or jwt secret are configured")
	}
	return auth.Middleware(logger, validators), nil
}
