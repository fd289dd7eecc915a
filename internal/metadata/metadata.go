// Package metadata holds the per-tenant semantic index of table and column
// descriptions used to ground SQL generation.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrTenantRequired = errors.New("metadata: tenant id is required")

// Record describes one table or column of a tenant's dataset. Column is empty
// for table-level records. Score is only set on search results.
type Record struct {
	TenantID    string
	Table       string
	Column      string
	Description string
	Embedding   []float32
	Score       float32
}

func (r Record) ID() string {
	if r.Column == "" {
		return r.Table
	}
	return r.Table + "." + r.Column
}

// Text is what gets embedded for the record.
func (r Record) Text() string {
	if r.Column == "" {
		return fmt.Sprintf("table %s: %s", r.Table, r.Description)
	}
	return fmt.Sprintf("column %s of table %s: %s", r.Column, r.Table, r.Description)
}

// Store searches and maintains tenant-partitioned metadata. Search must never
// return another tenant's records. Upsert for one tenant replaces the records
// of every table named in records and is serialized against other writes for
// that tenant.
type Store interface {
	Search(ctx context.Context, tenantID, question string, k int) ([]Record, error)
	Upsert(ctx context.Context, tenantID string, records []Record) error
	DeleteTable(ctx context.Context, tenantID, table string) error
	Close() error
}

// EmbeddingFunc turns text into a vector. It matches chromem's signature.
type EmbeddingFunc func(ctx context.Context, text string) ([]float32, error)

type Column struct {
	Name string
	Type string
}

// BuildRecords produces one table record plus one record per column. Columns
// without a supplied description get a generic one derived from name and type.
func BuildRecords(tenantID, table, tableDescription string, columns []Column, descriptions map[string]string) []Record {
	if strings.TrimSpace(tableDescription) == "" {
		names := make([]string, 0, len(columns))
		for _, col := range columns {
			names = append(names, col.Name)
		}
		tableDescription = fmt.Sprintf("dataset %s with columns %s", table, strings.Join(names, ", "))
	}
	records := []Record{{TenantID: tenantID, Table: table, Description: tableDescription}}
	for _, col := range columns {
		desc := strings.TrimSpace(descriptions[col.Name])
		if desc == "" {
			desc = fmt.Sprintf("%s value (%s)", humanize(col.Name), strings.ToLower(col.Type))
		}
		records = append(records, Record{
			TenantID:    tenantID,
			Table:       table,
			Column:      col.Name,
			Description: desc,
		})
	}
	return records
}

// Tables returns the distinct table names in records, sorted.
func Tables(records []Record) []string {
	seen := map[string]struct{}{}
	for _, r := range records {
		seen[r.Table] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for table := range seen {
		out = append(out, table)
	}
	sort.Strings(out)
	return out
}

func humanize(name string) string {
	return strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(name))
}

// Sync rebuilds the index entries of one table for tenantID.
func Sync(ctx context.Context, store Store, tenantID, table, tableDescription string, columns []Column, descriptions map[string]string) (int, error) {
	if strings.TrimSpace(tenantID) == "" {
		return 0, ErrTenantRequired
	}
	if strings.TrimSpace(table) == "" {
		return 0, fmt.Errorf("table is required")
	}
	if len(columns) == 0 {
		return 0, fmt.Errorf("table %q has no columns", table)
	}
	records := BuildRecords(tenantID, table, tableDescription, columns, descriptions)
	if err := store.Upsert(ctx, tenantID, records); err != nil {
		return 0, err
	}
	return len(records), nil
}
