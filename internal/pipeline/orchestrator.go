package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/querycache"
)

type Options struct {
	// StageTimeout bounds every external call except execution.
	StageTimeout   time.Duration
	ExecuteTimeout time.Duration
	MetadataTopK   int
}

// Dependencies are the concrete stages, injected once at startup. Cache may be
// nil, in which case every run generates SQL.
type Dependencies struct {
	Cache     querycache.Store
	Metadata  MetadataSearcher
	Intent    IntentClassifier
	Schema    SchemaResolver
	// Tables scopes cache keys to the current table version. Without it a
	// re-created table can be served SQL cached for its predecessor.
	Tables    TableVersioner
	Generator SQLGenerator
	Validator SQLValidator
	Executor  QueryExecutor
	Formatter ResponseFormatter
	Logger    *slog.Logger
}

type Orchestrator struct {
	deps      Dependencies
	opts      Options
	logger    *slog.Logger
	coalescer querycache.Coalescer
}

func New(deps Dependencies, opts Options) (*Orchestrator, error) {
	switch {
	case deps.Metadata == nil:
		return nil, fmt.Errorf("metadata searcher is required")
	case deps.Intent == nil:
		return nil, fmt.Errorf("intent classifier is required")
	case deps.Schema == nil:
		return nil, fmt.Errorf("schema resolver is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("sql generator is required")
	case deps.Validator == nil:
		return nil, fmt.Errorf("sql validator is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("query executor is required")
	case deps.Formatter == nil:
		return nil, fmt.Errorf("response formatter is required")
	}
	if opts.StageTimeout <= 0 {
		opts.StageTimeout = 30 * time.Second
	}
	if opts.ExecuteTimeout <= 0 {
		opts.ExecuteTimeout = opts.StageTimeout
	}
	if opts.MetadataTopK <= 0 {
		opts.MetadataTopK = 5
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Orchestrator{deps: deps, opts: opts, logger: logger}, nil
}

// Process runs one question through the pipeline. The returned context is
// non-nil even when err is set and shows how far the run got. Errors are
// always *Error.
func (o *Orchestrator) Process(ctx context.Context, question, tenantID, tableRef string) (*QueryContext, error) {
	qc := &QueryContext{
		RequestID: uuid.NewString(),
		Question:  strings.TrimSpace(question),
		TenantID:  strings.TrimSpace(tenantID),
		TableRef:  strings.TrimSpace(tableRef),
		Stage:     StageInit,
	}
	logger := observability.LoggerWithTrace(ctx, o.logger).With(
		slog.String("request_id", qc.RequestID),
		slog.String("tenant_id", qc.TenantID),
		slog.String("table", qc.TableRef),
	)

	start := time.Now()
	err := o.run(ctx, qc, logger)
	if err != nil {
		typed := Classify(qc.Stage, err, KindExecution)
		if typed.Stage != "" {
			qc.Stage = typed.Stage
		}
		observability.ObservePipelineRun(string(typed.Kind), string(qc.Intent))
		observability.ObserveStage(string(StageDone), string(typed.Kind), time.Since(start))
		logger.Warn("pipeline run failed",
			slog.String("stage", string(qc.Stage)),
			slog.String("kind", string(typed.Kind)),
			slog.Any("error", typed),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return qc, typed
	}
	observability.ObservePipelineRun("ok", string(qc.Intent))
	observability.ObserveStage(string(StageDone), "ok", time.Since(start))
	logger.Info("pipeline run completed",
		slog.String("intent", string(qc.Intent)),
		slog.Bool("cache_hit", qc.CacheHit),
		slog.Int("rows", len(qc.Rows)),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()),
	)
	return qc, nil
}

func (o *Orchestrator) run(ctx context.Context, qc *QueryContext, logger *slog.Logger) error {
	if qc.TenantID == "" {
		return NewError(KindNotFound, StageInit, "tenant id is required", nil)
	}
	if qc.TableRef == "" {
		return NewError(KindNotFound, StageInit, "table is required", nil)
	}
	if qc.Question == "" {
		return &Error{Kind: KindValidation, Stage: StageInit, Message: "question is empty", Issues: []string{"question is empty"}}
	}
	key, err := o.cacheKey(ctx, qc, logger)
	if err != nil {
		return err
	}

	if err := o.checkCache(ctx, qc, key, logger); err != nil {
		return err
	}

	if !qc.CacheHit {
		if err := ctx.Err(); err != nil {
			return NewError(KindTimeout, StageMetadata, "request cancelled", err)
		}
		// The generation outlives whichever caller started it; each stage
		// is still bounded by its own timeout.
		shareCtx := context.WithoutCancel(ctx)
		work, shared, err := querycache.Do(ctx, &o.coalescer, key, func() (*QueryContext, error) {
			return o.generate(shareCtx, qc, logger)
		})
		if err != nil {
			return err
		}
		if shared {
			observability.ObserveCacheLookup(observability.CacheResultShare)
			logger.Debug("sql generation shared with concurrent identical request")
		}
		qc.RelevantMetadata = work.RelevantMetadata
		qc.Schema = work.Schema
		if err := qc.setIntent(work.Intent); err != nil {
			return NewError(KindExecution, StageIntent, "", err)
		}
		qc.SQL = work.SQL
		qc.SQLValid = work.SQLValid
		qc.SQLIssues = work.SQLIssues
		qc.issues = work.issues
		if !qc.SQLValid {
			qc.Stage = StageValidate
			return ValidationFailed(qc.issues)
		}
	}

	err = o.stage(ctx, qc, logger, StageExecute, o.opts.ExecuteTimeout, KindExecution, func(ctx context.Context) error {
		rs, err := o.deps.Executor.Execute(ctx, qc.SQL, qc.TenantID)
		if err != nil {
			return err
		}
		return qc.setResult(rs)
	})
	if err != nil {
		return err
	}

	err = o.stage(ctx, qc, logger, StageFormat, o.opts.StageTimeout, KindConnection, func(ctx context.Context) error {
		out, err := o.deps.Formatter.Format(ctx, qc.Question, ResultSet{Columns: qc.Columns, Rows: qc.Rows}, qc.Intent)
		if err != nil {
			return err
		}
		qc.Answer = out.Answer
		qc.setChartHint(out.ChartHint)
		return nil
	})
	if err != nil {
		return err
	}

	if !qc.CacheHit && qc.SQLValid && o.deps.Cache != nil {
		err = o.stage(ctx, qc, logger, StageCacheStore, o.opts.StageTimeout, KindCache, func(ctx context.Context) error {
			return o.deps.Cache.Put(ctx, key, querycache.Entry{SQL: qc.SQL, Intent: string(qc.Intent)})
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			logger.Warn("query cache store failed", slog.Any("error", err))
		}
	}

	qc.Stage = StageDone
	return nil
}

func (o *Orchestrator) cacheKey(ctx context.Context, qc *QueryContext, logger *slog.Logger) (string, error) {
	var version string
	if o.deps.Tables != nil {
		err := o.stage(ctx, qc, logger, StageCacheCheck, o.opts.StageTimeout, KindConnection, func(ctx context.Context) error {
			var err error
			version, err = o.deps.Tables.TableVersion(ctx, qc.TenantID, qc.TableRef)
			return err
		})
		if err != nil {
			return "", err
		}
	}
	key, err := querycache.VersionedKey(qc.Question, qc.TableRef, version, qc.TenantID)
	if err != nil {
		return "", NewError(KindNotFound, StageInit, "cannot derive cache key", err)
	}
	return key, nil
}

// checkCache treats every cache failure as a miss unless the caller is gone.
func (o *Orchestrator) checkCache(ctx context.Context, qc *QueryContext, key string, logger *slog.Logger) error {
	if o.deps.Cache == nil {
		return nil
	}
	var entry querycache.Entry
	err := o.stage(ctx, qc, logger, StageCacheCheck, o.opts.StageTimeout, KindCache, func(ctx context.Context) error {
		var err error
		entry, err = o.deps.Cache.Get(ctx, key)
		return err
	})
	switch {
	case err == nil:
	case errors.Is(err, querycache.ErrMiss):
		observability.ObserveCacheLookup(observability.CacheResultMiss)
		return nil
	case ctx.Err() != nil:
		return err
	default:
		observability.ObserveCacheLookup(observability.CacheResultError)
		logger.Warn("query cache unavailable, continuing as miss", slog.Any("error", err))
		return nil
	}

	observability.ObserveCacheLookup(observability.CacheResultHit)
	if err := qc.setValidation(entry.SQL, true, nil); err != nil {
		logger.Warn("ignoring unusable cache entry", slog.Any("error", err))
		return nil
	}
	intent := Intent(entry.Intent)
	if !intent.Valid() {
		intent = IntentDataRetrieval
	}
	qc.CacheHit = true
	return qc.setIntent(intent)
}

// generate runs the miss path on a private context so that concurrent callers
// sharing it through the coalescer never observe each other's state.
func (o *Orchestrator) generate(ctx context.Context, in *QueryContext, logger *slog.Logger) (*QueryContext, error) {
	work := &QueryContext{
		RequestID: in.RequestID,
		Question:  in.Question,
		TenantID:  in.TenantID,
		TableRef:  in.TableRef,
	}

	err := o.stage(ctx, work, logger, StageMetadata, o.opts.StageTimeout, KindConnection, func(ctx context.Context) error {
		records, err := o.deps.Metadata.Search(ctx, work.TenantID, work.Question, o.opts.MetadataTopK)
		if err != nil {
			return err
		}
		work.RelevantMetadata = records
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(ctx, work, logger, StageIntent, o.opts.StageTimeout, KindConnection, func(ctx context.Context) error {
		intent, err := o.deps.Intent.Classify(ctx, work.Question)
		if err != nil {
			return err
		}
		if !intent.Valid() {
			logger.Warn("classifier returned unknown intent, using data_retrieval", slog.String("intent", string(intent)))
			intent = IntentDataRetrieval
		}
		return work.setIntent(intent)
	})
	if err != nil {
		return nil, err
	}

	err = o.stage(ctx, work, logger, StageSchema, o.opts.StageTimeout, KindConnection, func(ctx context.Context) error {
		schema, err := o.deps.Schema.Resolve(ctx, work.TenantID, work.TableRef)
		if err != nil {
			return err
		}
		if len(schema) == 0 {
			return NotFound(fmt.Sprintf("table %q has no columns", work.TableRef), nil)
		}
		work.Schema = schema
		return nil
	})
	if err != nil {
		return nil, err
	}

	var candidate string
	err = o.stage(ctx, work, logger, StageGenerate, o.opts.StageTimeout, KindConnection, func(ctx context.Context) error {
		var err error
		candidate, err = o.deps.Generator.Generate(ctx, GenerateRequest{
			TenantID: work.TenantID,
			Question: work.Question,
			TableRef: work.TableRef,
			Schema:   work.Schema,
			Metadata: work.RelevantMetadata,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(candidate) == "" {
		work.Stage = StageValidate
		_ = work.setValidation("", false, []string{"generator returned an empty statement"})
		return work, nil
	}

	err = o.stage(ctx, work, logger, StageValidate, o.opts.StageTimeout, KindConnection, func(ctx context.Context) error {
		verdict, err := o.deps.Validator.Validate(ctx, candidate, work.TableRef, work.Schema)
		if err != nil {
			return err
		}
		sql := verdict.SQL
		if strings.TrimSpace(sql) == "" {
			sql = candidate
		}
		if !verdict.Valid && len(verdict.Issues) == 0 {
			verdict.Issues = []string{"statement rejected by validator"}
		}
		return work.setValidation(sql, verdict.Valid, verdict.Issues)
	})
	if err != nil {
		return nil, err
	}
	return work, nil
}

func (o *Orchestrator) stage(ctx context.Context, qc *QueryContext, logger *slog.Logger, stage Stage, timeout time.Duration, fallback Kind, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return NewError(KindTimeout, stage, "request cancelled", err)
	}
	qc.Stage = stage

	stageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := fn(stageCtx)
	elapsed := time.Since(start)
	if err == nil {
		observability.ObserveStage(string(stage), "ok", elapsed)
		logger.Debug("stage completed", slog.String("stage", string(stage)), slog.Int64("duration_ms", elapsed.Milliseconds()))
		return nil
	}
	if errors.Is(err, querycache.ErrMiss) {
		observability.ObserveStage(string(stage), "ok", elapsed)
		return err
	}

	var typed *Error
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		typed = NewError(KindTimeout, stage, fmt.Sprintf("stage exceeded %s budget", timeout), err)
	} else {
		typed = Classify(stage, err, fallback)
	}
	observability.ObserveStage(string(stage), string(typed.Kind), elapsed)
	return typed
}
