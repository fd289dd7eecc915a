package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/parseqri/parseqri/internal/catalog"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/pipeline"
	"github.com/parseqri/parseqri/internal/sqlcheck"
	"github.com/parseqri/parseqri/internal/storage"
)

// FileLister returns the data files registered for a tenant.
type FileLister interface {
	ListDataFiles(ctx context.Context, tenantID string) ([]catalog.DataFileEntry, error)
}

// TenantExecutor runs validated SQL against one tenant's files only. The
// engine never sees files of another tenant, whatever the statement names.
type TenantExecutor struct {
	files    FileLister
	engine   Engine
	rowLimit int
	logger   *slog.Logger
}

func NewTenantExecutor(files FileLister, engine Engine, rowLimit int, logger *slog.Logger) (*TenantExecutor, error) {
	if files == nil {
		return nil, fmt.Errorf("file lister is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("query engine is required")
	}
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &TenantExecutor{files: files, engine: engine, rowLimit: rowLimit, logger: logger}, nil
}

func (e *TenantExecutor) Execute(ctx context.Context, sqlText, tenantID string) (pipeline.ResultSet, error) {
	if err := sqlcheck.ReadOnly(sqlText); err != nil {
		return pipeline.ResultSet{}, pipeline.NewError(pipeline.KindExecution, pipeline.StageExecute, "statement may only read the tenant's tables", err)
	}

	entries, err := e.files.ListDataFiles(ctx, tenantID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return pipeline.ResultSet{}, pipeline.NewError(pipeline.KindNotFound, pipeline.StageExecute, "tenant has no data source", err)
		}
		return pipeline.ResultSet{}, pipeline.Classify(pipeline.StageExecute, fmt.Errorf("list tenant files: %w", err), pipeline.KindConnection)
	}
	files := make([]TableFile, 0, len(entries))
	for _, entry := range entries {
		if !storage.OwnedBy(tenantID, entry.Path) {
			e.logger.Warn("skipping data file outside tenant prefix", "tenant_id", tenantID, "path", entry.Path)
			continue
		}
		files = append(files, TableFile{
			TableName:     entry.TableName,
			ObjectPath:    entry.Path,
			FileSizeBytes: entry.FileSizeBytes,
		})
	}
	if len(files) == 0 {
		return pipeline.ResultSet{}, pipeline.NewError(pipeline.KindNotFound, pipeline.StageExecute, "tenant has no data files", nil)
	}

	result, err := e.engine.Execute(ctx, Request{SQL: sqlText, RowLimit: e.rowLimit, Files: files})
	if err != nil {
		return pipeline.ResultSet{}, pipeline.Classify(pipeline.StageExecute, err, pipeline.KindExecution)
	}
	e.logger.Debug("query executed",
		"tenant_id", tenantID,
		"rows", len(result.Rows),
		"scanned_files", result.ScannedFiles,
		"scanned_bytes", result.ScannedBytes,
		"duration_ms", result.Duration.Milliseconds(),
	)
	observability.ObserveExecutedRows(len(result.Rows))
	return ToResultSet(result), nil
}

// ToResultSet keys each row by column name.
func ToResultSet(result Result) pipeline.ResultSet {
	rs := pipeline.ResultSet{Columns: append([]string(nil), result.Columns...), Rows: make([]pipeline.Row, 0, len(result.Rows))}
	for _, values := range result.Rows {
		row := make(pipeline.Row, len(result.Columns))
		for i, column := range result.Columns {
			if i < len(values) {
				row[column] = values[i]
			}
		}
		rs.Rows = append(rs.Rows, row)
	}
	return rs
}
