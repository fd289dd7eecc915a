package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parseqri/parseqri/internal/catalog"
	"github.com/parseqri/parseqri/internal/config"
	"github.com/parseqri/parseqri/internal/metadata"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/pipeline"
	"github.com/parseqri/parseqri/internal/storage"
)

type ReadinessCheck func(ctx context.Context) error

// QueryProcessor answers one natural-language question for a tenant table.
type QueryProcessor interface {
	Process(ctx context.Context, question, tenantID, tableRef string) (*pipeline.QueryContext, error)
}

type TableCatalog interface {
	CreateTable(ctx context.Context, in catalog.CreateTableInput) (catalog.TableDef, error)
	GetTableByName(ctx context.Context, tenantID, tableName string) (catalog.TableDef, error)
	ListTables(ctx context.Context, tenantID string) ([]catalog.TableDef, error)
	DeleteTableByName(ctx context.Context, tenantID, tableName string) (bool, error)
	ListTableDataFiles(ctx context.Context, tenantID, tableName string) ([]catalog.DataFileEntry, error)
	ConnectTable(ctx context.Context, in catalog.ConnectTableInput) (catalog.TableDef, []catalog.DataFile, error)
	UpsertColumnDescription(ctx context.Context, in catalog.UpsertColumnDescriptionInput) (catalog.ColumnDescription, error)
	ListColumnDescriptions(ctx context.Context, tenantID, tableName string) ([]catalog.ColumnDescription, error)
}

type SchemaResolver interface {
	Resolve(ctx context.Context, tenantID, tableRef string) (pipeline.Schema, error)
	Invalidate(tenantID, tableRef string)
}

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Pipeline          QueryProcessor
	Catalog           TableCatalog
	Objects           storage.ObjectStore
	Schemas           SchemaResolver
	Metadata          metadata.Store
	// MaxUploadBytes caps PUT bodies for data files; zero means 512 MiB.
	MaxUploadBytes int64
}

// protectedRoutes are served behind the auth middleware when auth is required.
var protectedRoutes = map[string]func(Dependencies, http.ResponseWriter, *http.Request){
	"POST /v1/query":                        handleQuery,
	"GET /v1/tables":                        handleListTables,
	"POST /v1/tables":                       handleConnectTable,
	"GET /v1/tables/{table}":                handleGetTable,
	"DELETE /v1/tables/{table}":             handleDeleteTable,
	"PUT /v1/tables/{table}/files/{file}":   handleUploadFile,
	"POST /v1/tables/{table}/metadata":      handleUpdateMetadata,
	"POST /v1/tables/{table}/metadata/sync": handleSyncMetadata,
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	protected := http.NewServeMux()
	for pattern, handle := range protectedRoutes {
		protected.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
			handle(deps, w, r)
		})
	}

	var protectedHandler http.Handler = protected
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			protectedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
			})
		} else {
			protectedHandler = deps.AuthMiddleware(protectedHandler)
		}
	}
	for pattern := range protectedRoutes {
		mux.Handle(pattern, protectedHandler)
	}

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckCatalogDSN(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.Catalog.DSN == "" {
			return errors.New("catalog dsn is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}

// writePipelineError maps a typed pipeline failure onto an HTTP status.
func writePipelineError(ctx context.Context, w http.ResponseWriter, err error, extra map[string]any) {
	var perr *pipeline.Error
	if !errors.As(err, &perr) {
		writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", err.Error(), false, extra)
		return
	}
	if extra == nil {
		extra = map[string]any{}
	}
	extra["stage"] = string(perr.Stage)
	if len(perr.Issues) > 0 {
		extra["sql_issues"] = perr.Issues
	}

	status, code := http.StatusInternalServerError, "INTERNAL"
	switch perr.Kind {
	case pipeline.KindValidation:
		status, code = http.StatusUnprocessableEntity, "VALIDATION_ERROR"
	case pipeline.KindNotFound:
		status, code = http.StatusNotFound, "NOT_FOUND"
	case pipeline.KindTimeout:
		status, code = http.StatusGatewayTimeout, "TIMEOUT"
	case pipeline.KindConnection:
		status, code = http.StatusBadGateway, "CONNECTION_ERROR"
	case pipeline.KindExecution:
		status, code = http.StatusBadRequest, "EXECUTION_ERROR"
	case pipeline.KindCache:
		status, code = http.StatusInternalServerError, "CACHE_ERROR"
	}
	writeError(ctx, w, status, code, perr.Error(), perr.Retryable(), extra)
}
