// Package query runs read-only SQL over tenant data files.
package query

import (
	"context"
	"time"
)

type TableFile struct {
	TableName     string
	ObjectPath    string
	FileSizeBytes int64
}

type Request struct {
	SQL      string
	RowLimit int
	// Files are the only data the statement can read. Each distinct
	// TableName becomes one relation.
	Files []TableFile
}

type Result struct {
	Columns      []string
	Rows         [][]any
	ScannedFiles int
	ScannedBytes int64
	Duration     time.Duration
}

type ColumnInfo struct {
	Name string
	Type string
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
	// Describe returns the ordered columns of table as exposed by files.
	Describe(ctx context.Context, table string, files []TableFile) ([]ColumnInfo, error)
}
