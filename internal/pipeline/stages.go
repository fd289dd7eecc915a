package pipeline

import (
	"context"

	"github.com/parseqri/parseqri/internal/metadata"
)

// MetadataSearcher is the read side of the metadata store.
type MetadataSearcher interface {
	Search(ctx context.Context, tenantID, question string, k int) ([]metadata.Record, error)
}

type IntentClassifier interface {
	Classify(ctx context.Context, question string) (Intent, error)
}

type SchemaResolver interface {
	Resolve(ctx context.Context, tenantID, tableRef string) (Schema, error)
}

// TableVersioner reports an identifier that changes whenever a tenant table
// is dropped, re-created or reconnected to different files.
type TableVersioner interface {
	TableVersion(ctx context.Context, tenantID, tableRef string) (string, error)
}

type GenerateRequest struct {
	TenantID string
	Question string
	TableRef string
	Schema   Schema
	Metadata []metadata.Record
}

type SQLGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Validation is the validator's verdict. SQL is the statement to execute,
// which may be a sanitized form of the input.
type Validation struct {
	Valid  bool
	Issues []string
	SQL    string
}

type SQLValidator interface {
	Validate(ctx context.Context, sql, tableRef string, schema Schema) (Validation, error)
}

// QueryExecutor runs validated SQL scoped to one tenant's data.
type QueryExecutor interface {
	Execute(ctx context.Context, sql, tenantID string) (ResultSet, error)
}

type Formatted struct {
	Answer    string
	ChartHint ChartHint
}

type ResponseFormatter interface {
	Format(ctx context.Context, question string, rs ResultSet, intent Intent) (Formatted, error)
}
