package catalog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("catalog: not found")

// Repository is the relational catalog of tenant data sources. Every lookup
// is keyed by tenant id; no method returns rows of another tenant.
type Repository interface {
	HealthCheck(ctx context.Context) error
	CreateTenant(ctx context.Context, in CreateTenantInput) (Tenant, error)
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	CreateTable(ctx context.Context, in CreateTableInput) (TableDef, error)
	GetTableByName(ctx context.Context, tenantID, tableName string) (TableDef, error)
	ListTables(ctx context.Context, tenantID string) ([]TableDef, error)
	DeleteTableByName(ctx context.Context, tenantID, tableName string) (bool, error)
	RegisterDataFile(ctx context.Context, in RegisterDataFileInput) (DataFile, error)
	ListDataFiles(ctx context.Context, tenantID string) ([]DataFileEntry, error)
	ListTableDataFiles(ctx context.Context, tenantID, tableName string) ([]DataFileEntry, error)
	UpsertColumnDescription(ctx context.Context, in UpsertColumnDescriptionInput) (ColumnDescription, error)
	ListColumnDescriptions(ctx context.Context, tenantID, tableName string) ([]ColumnDescription, error)
	ConnectTable(ctx context.Context, in ConnectTableInput) (TableDef, []DataFile, error)
}

type Tenant struct {
	TenantID  string
	Name      string
	Status    string
	CreatedAt time.Time
}

type TableDef struct {
	TableID     int64
	TenantID    string
	TableName   string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type DataFile struct {
	FileID        int64
	TenantID      string
	TableID       int64
	Path          string
	Format        string
	RecordCount   int64
	FileSizeBytes int64
	CreatedAt     time.Time
}

// DataFileEntry is a data file joined with the name of the table it backs.
type DataFileEntry struct {
	TableID       int64
	TableName     string
	FileID        int64
	Path          string
	FileSizeBytes int64
	RecordCount   int64
}

type ColumnDescription struct {
	TableID     int64
	ColumnName  string
	Description string
	UpdatedAt   time.Time
}

type CreateTenantInput struct {
	TenantID string
	Name     string
	Status   string
}

type CreateTableInput struct {
	TenantID    string
	TableName   string
	Description string
}

type RegisterDataFileInput struct {
	TenantID      string
	TableID       int64
	Path          string
	Format        string
	RecordCount   int64
	FileSizeBytes int64
}

// ConnectTableInput registers a table together with its data files. The
// tenant is created on first use.
type ConnectTableInput struct {
	TenantID    string
	TableName   string
	Description string
	Files       []ConnectFile
}

type ConnectFile struct {
	Path          string
	RecordCount   int64
	FileSizeBytes int64
}

type UpsertColumnDescriptionInput struct {
	TableID     int64
	ColumnName  string
	Description string
}

// Descriptions indexes column descriptions by column name.
func Descriptions(in []ColumnDescription) map[string]string {
	out := make(map[string]string, len(in))
	for _, desc := range in {
		out[desc.ColumnName] = desc.Description
	}
	return out
}
