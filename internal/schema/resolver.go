// Package schema resolves the column layout of a tenant's table from the
// catalog and the files registered for it.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/parseqri/parseqri/internal/catalog"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/pipeline"
	"github.com/parseqri/parseqri/internal/query"
	"github.com/parseqri/parseqri/internal/storage"
)

// Catalog is the subset of catalog.Repository the resolver reads.
type Catalog interface {
	GetTableByName(ctx context.Context, tenantID, tableName string) (catalog.TableDef, error)
	ListTableDataFiles(ctx context.Context, tenantID, tableName string) ([]catalog.DataFileEntry, error)
}

type Options struct {
	// CacheTTL keeps resolved schemas in memory; zero disables caching.
	CacheTTL time.Duration
	Logger   *slog.Logger
}

type cached struct {
	schema  pipeline.Schema
	expires time.Time
}

type Resolver struct {
	catalog Catalog
	engine  query.Engine
	ttl     time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]cached
}

func NewResolver(cat Catalog, engine query.Engine, opts Options) (*Resolver, error) {
	if cat == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Resolver{
		catalog: cat,
		engine:  engine,
		ttl:     opts.CacheTTL,
		logger:  logger,
		cache:   map[string]cached{},
	}, nil
}

// Resolve returns the ordered columns of tableRef for tenantID. A table the
// tenant never connected, or one without data files, is a not-found error.
func (r *Resolver) Resolve(ctx context.Context, tenantID, tableRef string) (pipeline.Schema, error) {
	if s, ok := r.cached(tenantID, tableRef); ok {
		return s, nil
	}

	files, err := r.tableFiles(ctx, tenantID, tableRef)
	if err != nil {
		return nil, err
	}
	columns, err := r.engine.Describe(ctx, tableRef, files)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, pipeline.NotFound(fmt.Sprintf("data file of table %q is missing from object storage", tableRef), err)
		}
		return nil, pipeline.Classify(pipeline.StageSchema, fmt.Errorf("describe table %q: %w", tableRef, err), pipeline.KindConnection)
	}

	s := make(pipeline.Schema, 0, len(columns))
	for _, col := range columns {
		s = append(s, pipeline.Column{Name: col.Name, Type: col.Type})
	}
	r.store(tenantID, tableRef, s)
	r.logger.Debug("schema resolved", "tenant_id", tenantID, "table", tableRef, "columns", len(s), "files", len(files))
	return s, nil
}

// TableVersion identifies the current incarnation of a tenant table: its
// catalog id, which changes when the table is re-created, and its last
// update, which moves when it is reconnected to new files.
func (r *Resolver) TableVersion(ctx context.Context, tenantID, tableRef string) (string, error) {
	table, err := r.lookupTable(ctx, tenantID, tableRef)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(table.TableID, 10) + "." + strconv.FormatInt(table.UpdatedAt.UnixNano(), 10), nil
}

// Sample returns up to n rows of the tenant table.
func (r *Resolver) Sample(ctx context.Context, tenantID, table string, n int) ([][]any, error) {
	if n <= 0 {
		return nil, nil
	}
	files, err := r.tableFiles(ctx, tenantID, table)
	if err != nil {
		return nil, err
	}
	result, err := r.engine.Execute(ctx, query.Request{
		SQL:      "SELECT * FROM " + quoteIdent(table) + " LIMIT " + strconv.Itoa(n),
		RowLimit: n,
		Files:    files,
	})
	if err != nil {
		return nil, fmt.Errorf("sample table %q: %w", table, err)
	}
	return result.Rows, nil
}

// Invalidate drops the cached schema of one tenant table.
func (r *Resolver) Invalidate(tenantID, tableRef string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cache, cacheKey(tenantID, tableRef))
}

func (r *Resolver) tableFiles(ctx context.Context, tenantID, tableRef string) ([]query.TableFile, error) {
	if _, err := r.lookupTable(ctx, tenantID, tableRef); err != nil {
		return nil, err
	}

	entries, err := r.catalog.ListTableDataFiles(ctx, tenantID, tableRef)
	if err != nil {
		return nil, pipeline.Classify(pipeline.StageSchema, fmt.Errorf("list files of table %q: %w", tableRef, err), pipeline.KindConnection)
	}
	files := make([]query.TableFile, 0, len(entries))
	for _, entry := range entries {
		if !storage.OwnedBy(tenantID, entry.Path) {
			r.logger.Warn("skipping data file outside tenant prefix", "tenant_id", tenantID, "path", entry.Path)
			continue
		}
		files = append(files, query.TableFile{TableName: tableRef, ObjectPath: entry.Path, FileSizeBytes: entry.FileSizeBytes})
	}
	if len(files) == 0 {
		return nil, pipeline.NotFound(fmt.Sprintf("data source %q of tenant %q has no data files", tableRef, tenantID), nil)
	}
	return files, nil
}

func (r *Resolver) lookupTable(ctx context.Context, tenantID, tableRef string) (catalog.TableDef, error) {
	if strings.TrimSpace(tableRef) == "" {
		return catalog.TableDef{}, pipeline.NotFound("table reference is empty", nil)
	}
	table, err := r.catalog.GetTableByName(ctx, tenantID, tableRef)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return catalog.TableDef{}, pipeline.NotFound(fmt.Sprintf("tenant %q has no data source named %q", tenantID, tableRef), err)
		}
		return catalog.TableDef{}, pipeline.Classify(pipeline.StageSchema, fmt.Errorf("get table %q: %w", tableRef, err), pipeline.KindConnection)
	}
	return table, nil
}

func (r *Resolver) cached(tenantID, tableRef string) (pipeline.Schema, bool) {
	if r.ttl <= 0 {
		return nil, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[cacheKey(tenantID, tableRef)]
	if !ok || time.Now().After(entry.expires) {
		return nil, false
	}
	return entry.schema, true
}

func (r *Resolver) store(tenantID, tableRef string, s pipeline.Schema) {
	if r.ttl <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[cacheKey(tenantID, tableRef)] = cached{schema: s, expires: time.Now().Add(r.ttl)}
}

func cacheKey(tenantID, tableRef string) string {
	return strconv.Itoa(len(tenantID)) + ":" + tenantID + "/" + tableRef
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
