package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/parseqri/parseqri/internal/auth"
	"github.com/parseqri/parseqri/internal/catalog"
	"github.com/parseqri/parseqri/internal/metadata"
	"github.com/parseqri/parseqri/internal/observability"
	"github.com/parseqri/parseqri/internal/pipeline"
	"github.com/parseqri/parseqri/internal/storage"
)

const defaultMaxUploadBytes = 512 << 20

type connectTableRequest struct {
	Table       string   `json:"table"`
	Description string   `json:"description"`
	ObjectPaths []string `json:"object_paths"`
}

type columnDescriptionRequest struct {
	Column      string `json:"column"`
	Description string `json:"description"`
}

type updateMetadataRequest struct {
	Description string                     `json:"description"`
	Columns     []columnDescriptionRequest `json:"columns"`
}

func handleListTables(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleQueryReader, auth.RoleTableAdmin)
	if !ok {
		return
	}
	tables, err := deps.Catalog.ListTables(r.Context(), tenantID)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list tables", true, map[string]any{"details": err.Error()})
		return
	}
	items := make([]map[string]any, 0, len(tables))
	for _, table := range tables {
		items = append(items, tableJSON(table))
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenantID, "tables": items})
}

func handleGetTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleQueryReader, auth.RoleTableAdmin)
	if !ok {
		return
	}
	table, ok := lookupTable(deps, w, r, tenantID)
	if !ok {
		return
	}

	files, err := deps.Catalog.ListTableDataFiles(r.Context(), tenantID, table.TableName)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list data files", true, map[string]any{"details": err.Error()})
		return
	}
	descs, err := deps.Catalog.ListColumnDescriptions(r.Context(), tenantID, table.TableName)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to list column descriptions", true, map[string]any{"details": err.Error()})
		return
	}

	response := tableJSON(table)
	fileItems := make([]map[string]any, 0, len(files))
	for _, file := range files {
		fileItems = append(fileItems, map[string]any{
			"path":            file.Path,
			"file_size_bytes": file.FileSizeBytes,
			"record_count":    file.RecordCount,
		})
	}
	response["files"] = fileItems

	byName := catalog.Descriptions(descs)
	if deps.Schemas != nil {
		schema, err := deps.Schemas.Resolve(r.Context(), tenantID, table.TableName)
		if err != nil {
			response["schema_error"] = err.Error()
		} else {
			columns := make([]map[string]any, 0, len(schema))
			for _, col := range schema {
				columns = append(columns, map[string]any{
					"name":        col.Name,
					"type":        col.Type,
					"description": byName[col.Name],
				})
			}
			response["columns"] = columns
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func handleDeleteTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "catalog dependency is not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleTableAdmin)
	if !ok {
		return
	}
	tableName := strings.TrimSpace(r.PathValue("table"))
	deleted, err := deps.Catalog.DeleteTableByName(r.Context(), tenantID, tableName)
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to delete table", true, map[string]any{"details": err.Error()})
		return
	}
	if !deleted {
		writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table is not registered for tenant", false, map[string]any{"table": tableName})
		return
	}
	if deps.Schemas != nil {
		deps.Schemas.Invalidate(tenantID, tableName)
	}
	if deps.Metadata != nil {
		if err := deps.Metadata.DeleteTable(r.Context(), tenantID, tableName); err != nil {
			loggerFor(r.Context(), deps).Warn("failed to drop table metadata",
				slog.String("tenant_id", tenantID),
				slog.String("table", tableName),
				slog.Any("error", err),
			)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": tableName, "deleted": true})
}

// handleConnectTable registers parquet objects as a tenant table. Without
// explicit object paths every parquet object under the table prefix is used.
func handleConnectTable(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Objects == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "TABLES_NOT_CONFIGURED", "catalog and object store dependencies are required", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleTableAdmin)
	if !ok {
		return
	}

	var request connectTableRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid connect request body", false, map[string]any{"details": err.Error()})
		return
	}
	request.Table = strings.TrimSpace(request.Table)
	prefix, err := storage.TablePrefix(tenantID, request.Table)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_TABLE", err.Error(), false, nil)
		return
	}

	files, rerr := resolveObjects(r.Context(), deps.Objects, tenantID, prefix, request.ObjectPaths)
	if rerr != nil {
		writeError(r.Context(), w, rerr.status, rerr.code, rerr.err.Error(), rerr.status == http.StatusBadGateway, map[string]any{"table": request.Table})
		return
	}

	table, registered, err := deps.Catalog.ConnectTable(r.Context(), catalog.ConnectTableInput{
		TenantID:    tenantID,
		TableName:   request.Table,
		Description: strings.TrimSpace(request.Description),
		Files:       files,
	})
	if err != nil {
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to register table", true, map[string]any{"details": err.Error()})
		return
	}

	response := tableJSON(table)
	paths := make([]string, 0, len(registered))
	for _, file := range registered {
		paths = append(paths, file.Path)
	}
	response["files"] = paths

	if deps.Schemas != nil && deps.Metadata != nil {
		count, err := syncTableMetadata(r.Context(), deps, table)
		if err != nil {
			loggerFor(r.Context(), deps).Warn("metadata sync after connect failed",
				slog.String("tenant_id", tenantID),
				slog.String("table", table.TableName),
				slog.Any("error", err),
			)
			response["metadata_error"] = err.Error()
		}
		response["metadata_records"] = count
	}
	writeJSON(w, http.StatusCreated, response)
}

type requestError struct {
	status int
	code   string
	err    error
}

func objectStoreError(err error) *requestError {
	return &requestError{status: http.StatusBadGateway, code: "OBJECT_STORE_ERROR", err: err}
}

// resolveObjects picks the parquet objects backing a table and reads each
// footer for its record count.
func resolveObjects(ctx context.Context, objects storage.ObjectStore, tenantID, prefix string, paths []string) ([]catalog.ConnectFile, *requestError) {
	var files []catalog.ConnectFile
	if len(paths) == 0 {
		listed, err := objects.List(ctx, prefix)
		if err != nil {
			return nil, objectStoreError(fmt.Errorf("list %s: %w", prefix, err))
		}
		for _, obj := range listed {
			if storage.IsParquet(obj.Key) {
				files = append(files, catalog.ConnectFile{Path: obj.Key, FileSizeBytes: obj.Size})
			}
		}
		if len(files) == 0 {
			return nil, &requestError{status: http.StatusBadRequest, code: "NO_DATA_FILES", err: fmt.Errorf("no parquet objects under %s", prefix)}
		}
	} else {
		seen := make(map[string]struct{}, len(paths))
		for _, raw := range paths {
			key := strings.TrimPrefix(strings.TrimSpace(raw), "/")
			if !storage.OwnedBy(tenantID, key) {
				return nil, &requestError{status: http.StatusForbidden, code: "PATH_NOT_OWNED", err: fmt.Errorf("object %q is outside the tenant data prefix", raw)}
			}
			if !storage.IsParquet(key) {
				return nil, &requestError{status: http.StatusBadRequest, code: "NOT_PARQUET", err: fmt.Errorf("object %q is not a parquet file", raw)}
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			info, err := objects.Stat(ctx, key)
			if err != nil {
				if errors.Is(err, storage.ErrObjectNotFound) {
					return nil, &requestError{status: http.StatusNotFound, code: "OBJECT_NOT_FOUND", err: fmt.Errorf("object %q does not exist", raw)}
				}
				return nil, objectStoreError(fmt.Errorf("stat %q: %w", raw, err))
			}
			files = append(files, catalog.ConnectFile{Path: key, FileSizeBytes: info.Size})
		}
	}

	for i := range files {
		summary, err := storage.InspectParquet(ctx, objects, files[i].Path, files[i].FileSizeBytes)
		switch {
		case err == nil:
			files[i].RecordCount = summary.RecordCount
		case errors.Is(err, storage.ErrNotParquet):
			return nil, &requestError{status: http.StatusBadRequest, code: "INVALID_PARQUET", err: err}
		case errors.Is(err, storage.ErrObjectNotFound):
			return nil, &requestError{status: http.StatusNotFound, code: "OBJECT_NOT_FOUND", err: fmt.Errorf("object %q does not exist", files[i].Path)}
		default:
			return nil, objectStoreError(err)
		}
	}
	return files, nil
}

func handleUploadFile(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Objects == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "UPLOAD_NOT_CONFIGURED", "object store dependency is not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleTableAdmin)
	if !ok {
		return
	}
	key, err := storage.BuildDataFilePath(tenantID, r.PathValue("table"), r.PathValue("file"))
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_PATH", err.Error(), false, nil)
		return
	}
	limit := deps.MaxUploadBytes
	if limit <= 0 {
		limit = defaultMaxUploadBytes
	}
	if r.ContentLength > limit {
		writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "data file exceeds the upload limit", false, map[string]any{"max_bytes": limit})
		return
	}
	body := http.MaxBytesReader(w, r.Body, limit)

	info, err := deps.Objects.Put(r.Context(), key, body, r.ContentLength, storage.PutOptions{ContentType: storage.ParquetContentType})
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "data file exceeds the upload limit", false, map[string]any{"max_bytes": limit})
			return
		}
		writeError(r.Context(), w, http.StatusBadGateway, "OBJECT_STORE_ERROR", "failed to store data file", true, map[string]any{"details": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"path": key, "size": info.Size, "etag": info.ETag})
}

func handleUpdateMetadata(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Schemas == nil || deps.Metadata == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "METADATA_NOT_CONFIGURED", "metadata dependencies are not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleTableAdmin)
	if !ok {
		return
	}

	var request updateMetadataRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid metadata request body", false, map[string]any{"details": err.Error()})
		return
	}

	table, ok := lookupTable(deps, w, r, tenantID)
	if !ok {
		return
	}
	schema, err := deps.Schemas.Resolve(r.Context(), tenantID, table.TableName)
	if err != nil {
		writePipelineError(r.Context(), w, err, map[string]any{"table": table.TableName})
		return
	}
	for _, col := range request.Columns {
		if _, known := schema.Lookup(col.Column); !known {
			writeError(r.Context(), w, http.StatusBadRequest, "UNKNOWN_COLUMN", fmt.Sprintf("table %q has no column %q", table.TableName, col.Column), false, map[string]any{"columns": schema.Names()})
			return
		}
	}

	if description := strings.TrimSpace(request.Description); description != "" {
		table, err = deps.Catalog.CreateTable(r.Context(), catalog.CreateTableInput{
			TenantID:    tenantID,
			TableName:   table.TableName,
			Description: description,
		})
		if err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to update table description", true, map[string]any{"details": err.Error()})
			return
		}
	}
	for _, col := range request.Columns {
		resolved, _ := schema.Lookup(col.Column)
		if _, err := deps.Catalog.UpsertColumnDescription(r.Context(), catalog.UpsertColumnDescriptionInput{
			TableID:     table.TableID,
			ColumnName:  resolved.Name,
			Description: strings.TrimSpace(col.Description),
		}); err != nil {
			writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to store column description", true, map[string]any{"details": err.Error()})
			return
		}
	}

	respondWithSync(deps, w, r, table)
}

func handleSyncMetadata(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Catalog == nil || deps.Schemas == nil || deps.Metadata == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "METADATA_NOT_CONFIGURED", "metadata dependencies are not configured", false, nil)
		return
	}
	tenantID, ok := authorize(w, r, auth.RoleTableAdmin)
	if !ok {
		return
	}
	table, ok := lookupTable(deps, w, r, tenantID)
	if !ok {
		return
	}
	respondWithSync(deps, w, r, table)
}

func respondWithSync(deps Dependencies, w http.ResponseWriter, r *http.Request, table catalog.TableDef) {
	count, err := syncTableMetadata(r.Context(), deps, table)
	if err != nil {
		if pipeline.KindOf(err) != "" {
			writePipelineError(r.Context(), w, err, map[string]any{"table": table.TableName})
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "METADATA_SYNC_FAILED", "failed to sync table metadata", true, map[string]any{"details": err.Error()})
		return
	}
	response := tableJSON(table)
	response["metadata_records"] = count
	writeJSON(w, http.StatusOK, response)
}

// syncTableMetadata re-reads the table layout from its files and rebuilds the
// tenant's index entries for it.
func syncTableMetadata(ctx context.Context, deps Dependencies, table catalog.TableDef) (int, error) {
	deps.Schemas.Invalidate(table.TenantID, table.TableName)
	schema, err := deps.Schemas.Resolve(ctx, table.TenantID, table.TableName)
	if err != nil {
		return 0, err
	}
	descs, err := deps.Catalog.ListColumnDescriptions(ctx, table.TenantID, table.TableName)
	if err != nil {
		return 0, fmt.Errorf("list column descriptions: %w", err)
	}
	columns := make([]metadata.Column, 0, len(schema))
	for _, col := range schema {
		columns = append(columns, metadata.Column{Name: col.Name, Type: col.Type})
	}
	return metadata.Sync(ctx, deps.Metadata, table.TenantID, table.TableName, table.Description, columns, catalog.Descriptions(descs))
}

func lookupTable(deps Dependencies, w http.ResponseWriter, r *http.Request, tenantID string) (catalog.TableDef, bool) {
	tableName := strings.TrimSpace(r.PathValue("table"))
	table, err := deps.Catalog.GetTableByName(r.Context(), tenantID, tableName)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(r.Context(), w, http.StatusNotFound, "TABLE_NOT_FOUND", "table is not registered for tenant", false, map[string]any{"table": tableName})
			return catalog.TableDef{}, false
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "CATALOG_ERROR", "failed to resolve table", true, map[string]any{"details": err.Error()})
		return catalog.TableDef{}, false
	}
	return table, true
}

func tableJSON(table catalog.TableDef) map[string]any {
	return map[string]any{
		"table_id":    table.TableID,
		"table":       table.TableName,
		"description": table.Description,
		"created_at":  table.CreatedAt,
		"updated_at":  table.UpdatedAt,
	}
}

func loggerFor(ctx context.Context, deps Dependencies) *slog.Logger {
	logger := deps.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return observability.LoggerWithTrace(ctx, logger)
}
