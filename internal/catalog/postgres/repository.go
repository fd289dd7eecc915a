package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/parseqri/parseqri/internal/catalog"
)

type dbTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping catalog db: %w", err)
	}
	return nil
}

func (r *Repository) CreateTenant(ctx context.Context, in catalog.CreateTenantInput) (catalog.Tenant, error) {
	return createTenant(ctx, r.db, in)
}

func (r *Repository) GetTenant(ctx context.Context, tenantID string) (catalog.Tenant, error) {
	query := `
SELECT tenant_id, name, status, created_at
FROM tenant
WHERE tenant_id = $1`

	var tenant catalog.Tenant
	if err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&tenant.TenantID,
		&tenant.Name,
		&tenant.Status,
		&tenant.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Tenant{}, catalog.ErrNotFound
		}
		return catalog.Tenant{}, fmt.Errorf("get tenant: %w", err)
	}
	return tenant, nil
}

func (r *Repository) ListTenants(ctx context.Context) ([]catalog.Tenant, error) {
	query := `
SELECT tenant_id, name, status, created_at
FROM tenant
ORDER BY tenant_id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tenants := make([]catalog.Tenant, 0)
	for rows.Next() {
		var tenant catalog.Tenant
		if err := rows.Scan(&tenant.TenantID, &tenant.Name, &tenant.Status, &tenant.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan tenant row: %w", err)
		}
		tenants = append(tenants, tenant)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant rows: %w", err)
	}
	return tenants, nil
}

// CreateTable registers a tenant table, updating the description when the
// table already exists.
func (r *Repository) CreateTable(ctx context.Context, in catalog.CreateTableInput) (catalog.TableDef, error) {
	return createTable(ctx, r.db, in)
}

func (r *Repository) GetTableByName(ctx context.Context, tenantID, tableName string) (catalog.TableDef, error) {
	query := `
SELECT table_id, tenant_id, table_name, description, created_at, updated_at
FROM table_def
WHERE tenant_id = $1 AND table_name = $2`

	var table catalog.TableDef
	if err := r.db.QueryRowContext(ctx, query, tenantID, tableName).Scan(
		&table.TableID,
		&table.TenantID,
		&table.TableName,
		&table.Description,
		&table.CreatedAt,
		&table.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.TableDef{}, catalog.ErrNotFound
		}
		return catalog.TableDef{}, fmt.Errorf("get table by name: %w", err)
	}
	return table, nil
}

func (r *Repository) ListTables(ctx context.Context, tenantID string) ([]catalog.TableDef, error) {
	query := `
SELECT table_id, tenant_id, table_name, description, created_at, updated_at
FROM table_def
WHERE tenant_id = $1
ORDER BY table_name ASC`

	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tables := make([]catalog.TableDef, 0)
	for rows.Next() {
		var table catalog.TableDef
		if err := rows.Scan(
			&table.TableID,
			&table.TenantID,
			&table.TableName,
			&table.Description,
			&table.CreatedAt,
			&table.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan table row: %w", err)
		}
		tables = append(tables, table)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate table rows: %w", err)
	}
	return tables, nil
}

func (r *Repository) DeleteTableByName(ctx context.Context, tenantID, tableName string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM table_def
WHERE tenant_id = $1 AND table_name = $2`, tenantID, tableName)
	if err != nil {
		return false, fmt.Errorf("delete table by name: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete table by name rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *Repository) RegisterDataFile(ctx context.Context, in catalog.RegisterDataFileInput) (catalog.DataFile, error) {
	return registerDataFile(ctx, r.db, in)
}

func (r *Repository) ListDataFiles(ctx context.Context, tenantID string) ([]catalog.DataFileEntry, error) {
	query := `
SELECT df.table_id, td.table_name, df.file_id, df.path, df.file_size_bytes, df.record_count
FROM data_file AS df
JOIN table_def AS td ON td.table_id = df.table_id
WHERE df.tenant_id = $1
  AND td.tenant_id = $1
ORDER BY td.table_name ASC, df.file_id ASC`
	return r.listDataFiles(ctx, "list data files", query, tenantID)
}

func (r *Repository) ListTableDataFiles(ctx context.Context, tenantID, tableName string) ([]catalog.DataFileEntry, error) {
	query := `
SELECT df.table_id, td.table_name, df.file_id, df.path, df.file_size_bytes, df.record_count
FROM data_file AS df
JOIN table_def AS td ON td.table_id = df.table_id
WHERE df.tenant_id = $1
  AND td.tenant_id = $1
  AND td.table_name = $2
ORDER BY df.file_id ASC`
	return r.listDataFiles(ctx, "list table data files", query, tenantID, tableName)
}

func (r *Repository) listDataFiles(ctx context.Context, op, query string, args ...any) ([]catalog.DataFileEntry, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = rows.Close() }()

	files := make([]catalog.DataFileEntry, 0)
	for rows.Next() {
		var file catalog.DataFileEntry
		if err := rows.Scan(
			&file.TableID,
			&file.TableName,
			&file.FileID,
			&file.Path,
			&file.FileSizeBytes,
			&file.RecordCount,
		); err != nil {
			return nil, fmt.Errorf("scan data file row: %w", err)
		}
		files = append(files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate data file rows: %w", err)
	}
	return files, nil
}

func (r *Repository) UpsertColumnDescription(ctx context.Context, in catalog.UpsertColumnDescriptionInput) (catalog.ColumnDescription, error) {
	return upsertColumnDescription(ctx, r.db, in)
}

func (r *Repository) ListColumnDescriptions(ctx context.Context, tenantID, tableName string) ([]catalog.ColumnDescription, error) {
	query := `
SELECT cd.table_id, cd.column_name, cd.description, cd.updated_at
FROM column_description AS cd
JOIN table_def AS td ON td.table_id = cd.table_id
WHERE td.tenant_id = $1 AND td.table_name = $2
ORDER BY cd.column_name ASC`

	rows, err := r.db.QueryContext(ctx, query, tenantID, tableName)
	if err != nil {
		return nil, fmt.Errorf("list column descriptions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]catalog.ColumnDescription, 0)
	for rows.Next() {
		var desc catalog.ColumnDescription
		if err := rows.Scan(&desc.TableID, &desc.ColumnName, &desc.Description, &desc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan column description row: %w", err)
		}
		out = append(out, desc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate column description rows: %w", err)
	}
	return out, nil
}

// ConnectTable creates the tenant and table if needed and registers every
// file in one transaction.
func (r *Repository) ConnectTable(ctx context.Context, in catalog.ConnectTableInput) (catalog.TableDef, []catalog.DataFile, error) {
	var (
		table catalog.TableDef
		files []catalog.DataFile
	)
	err := r.WithTx(ctx, func(tx *TxRepository) error {
		if _, err := createTenant(ctx, tx.q, catalog.CreateTenantInput{TenantID: in.TenantID}); err != nil {
			return err
		}
		var err error
		table, err = tx.CreateTable(ctx, catalog.CreateTableInput{
			TenantID:    in.TenantID,
			TableName:   in.TableName,
			Description: in.Description,
		})
		if err != nil {
			return err
		}
		files = make([]catalog.DataFile, 0, len(in.Files))
		for _, f := range in.Files {
			file, err := tx.RegisterDataFile(ctx, catalog.RegisterDataFileInput{
				TenantID:      in.TenantID,
				TableID:       table.TableID,
				Path:          f.Path,
				RecordCount:   f.RecordCount,
				FileSizeBytes: f.FileSizeBytes,
			})
			if err != nil {
				return err
			}
			files = append(files, file)
		}
		return nil
	})
	if err != nil {
		return catalog.TableDef{}, nil, err
	}
	return table, files, nil
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx *TxRepository) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	txRepo := &TxRepository{q: tx}
	if err := fn(txRepo); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// TxRepository is the write subset of Repository bound to one transaction.
type TxRepository struct {
	q dbTX
}

func (r *TxRepository) CreateTable(ctx context.Context, in catalog.CreateTableInput) (catalog.TableDef, error) {
	return createTable(ctx, r.q, in)
}

func (r *TxRepository) RegisterDataFile(ctx context.Context, in catalog.RegisterDataFileInput) (catalog.DataFile, error) {
	return registerDataFile(ctx, r.q, in)
}

func (r *TxRepository) UpsertColumnDescription(ctx context.Context, in catalog.UpsertColumnDescriptionInput) (catalog.ColumnDescription, error) {
	return upsertColumnDescription(ctx, r.q, in)
}

func createTenant(ctx context.Context, q dbTX, in catalog.CreateTenantInput) (catalog.Tenant, error) {
	status := in.Status
	if status == "" {
		status = "active"
	}
	name := in.Name
	if name == "" {
		name = in.TenantID
	}

	query := `
INSERT INTO tenant (tenant_id, name, status)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id)
DO UPDATE SET name = EXCLUDED.name
RETURNING status, created_at`
	tenant := catalog.Tenant{TenantID: in.TenantID, Name: name}
	if err := q.QueryRowContext(ctx, query, in.TenantID, name, status).Scan(&tenant.Status, &tenant.CreatedAt); err != nil {
		return catalog.Tenant{}, fmt.Errorf("create tenant: %w", err)
	}
	return tenant, nil
}

func createTable(ctx context.Context, q dbTX, in catalog.CreateTableInput) (catalog.TableDef, error) {
	query := `
INSERT INTO table_def (tenant_id, table_name, description)
VALUES ($1, $2, $3)
ON CONFLICT (tenant_id, table_name)
DO UPDATE SET
    description = CASE WHEN EXCLUDED.description = '' THEN table_def.description ELSE EXCLUDED.description END,
    updated_at = now()
RETURNING table_id, description, created_at, updated_at`

	table := catalog.TableDef{TenantID: in.TenantID, TableName: in.TableName}
	if err := q.QueryRowContext(ctx, query, in.TenantID, in.TableName, in.Description).Scan(
		&table.TableID,
		&table.Description,
		&table.CreatedAt,
		&table.UpdatedAt,
	); err != nil {
		return catalog.TableDef{}, fmt.Errorf("create table: %w", err)
	}
	return table, nil
}

func registerDataFile(ctx context.Context, q dbTX, in catalog.RegisterDataFileInput) (catalog.DataFile, error) {
	format := in.Format
	if format == "" {
		format = "parquet"
	}

	query := `
INSERT INTO data_file (tenant_id, table_id, path, format, record_count, file_size_bytes)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (table_id, path)
DO UPDATE SET
    record_count = EXCLUDED.record_count,
    file_size_bytes = EXCLUDED.file_size_bytes
RETURNING file_id, created_at`

	file := catalog.DataFile{
		TenantID:      in.TenantID,
		TableID:       in.TableID,
		Path:          in.Path,
		Format:        format,
		RecordCount:   in.RecordCount,
		FileSizeBytes: in.FileSizeBytes,
	}
	if err := q.QueryRowContext(ctx, query,
		in.TenantID,
		in.TableID,
		in.Path,
		format,
		in.RecordCount,
		in.FileSizeBytes,
	).Scan(&file.FileID, &file.CreatedAt); err != nil {
		return catalog.DataFile{}, fmt.Errorf("register data file: %w", err)
	}
	return file, nil
}

func upsertColumnDescription(ctx context.Context, q dbTX, in catalog.UpsertColumnDescriptionInput) (catalog.ColumnDescription, error) {
	query := `
INSERT INTO column_description (table_id, column_name, description)
VALUES ($1, $2, $3)
ON CONFLICT (table_id, column_name)
DO UPDATE SET description = EXCLUDED.description, updated_at = now()
RETURNING updated_at`

	var updatedAt time.Time
	if err := q.QueryRowContext(ctx, query, in.TableID, in.ColumnName, in.Description).Scan(&updatedAt); err != nil {
		return catalog.ColumnDescription{}, fmt.Errorf("upsert column description: %w", err)
	}
	return catalog.ColumnDescription{
		TableID:     in.TableID,
		ColumnName:  in.ColumnName,
		Description: in.Description,
		UpdatedAt:   updatedAt,
	}, nil
}
