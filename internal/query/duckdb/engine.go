package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/parseqri/parseqri/internal/query"
	"github.com/parseqri/parseqri/internal/storage"
)

type Engine struct {
	Store storage.ObjectStore
}

func NewEngine(store storage.ObjectStore) *Engine {
	return &Engine{Store: store}
}

// session is an in-memory duckdb database holding one table per requested
// table name, loaded from locally staged copies of the files. Once loaded the
// database can no longer read files or change its configuration.
type session struct {
	db           *sql.DB
	workDir      string
	scannedBytes int64
}

func (s *session) close() {
	_ = s.db.Close()
	_ = os.RemoveAll(s.workDir)
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	start := time.Now()
	sess, err := e.open(ctx, request.Files)
	if err != nil {
		return query.Result{}, err
	}
	defer sess.close()

	if request.RowLimit > 0 {
		sqlText = fmt.Sprintf("SELECT * FROM (%s) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	rows, err := sess.db.QueryContext(ctx, sqlText)
	if err != nil {
		return query.Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return query.Result{}, fmt.Errorf("query columns: %w", err)
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return query.Result{}, fmt.Errorf("scan row: %w", err)
		}
		resultRows = append(resultRows, normalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return query.Result{}, fmt.Errorf("iterate rows: %w", err)
	}

	return query.Result{
		Columns:      columns,
		Rows:         resultRows,
		ScannedFiles: len(request.Files),
		ScannedBytes: sess.scannedBytes,
		Duration:     time.Since(start),
	}, nil
}

func (e *Engine) Describe(ctx context.Context, table string, files []query.TableFile) ([]query.ColumnInfo, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("table is required")
	}
	scoped := make([]query.TableFile, 0, len(files))
	for _, file := range files {
		if file.TableName == table {
			scoped = append(scoped, file)
		}
	}

	sess, err := e.open(ctx, scoped)
	if err != nil {
		return nil, err
	}
	defer sess.close()

	rows, err := sess.db.QueryContext(ctx, `
SELECT column_name, data_type
FROM information_schema.columns
WHERE table_name = ?
ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("describe table %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	columns := make([]query.ColumnInfo, 0)
	for rows.Next() {
		var col query.ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("table %q exposes no columns", table)
	}
	return columns, nil
}

func (e *Engine) open(ctx context.Context, files []query.TableFile) (*session, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("no data files to query")
	}
	if e.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}

	workDir, err := os.MkdirTemp("", "parseqri-query-")
	if err != nil {
		return nil, fmt.Errorf("create query temp dir: %w", err)
	}

	groupedPaths := map[string][]string{}
	var scannedBytes int64
	for index, file := range files {
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", sanitizeFileComponent(file.TableName), index))
		if err := e.stage(ctx, file.ObjectPath, localPath); err != nil {
			_ = os.RemoveAll(workDir)
			return nil, err
		}
		groupedPaths[file.TableName] = append(groupedPaths[file.TableName], localPath)
		scannedBytes += file.FileSizeBytes
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		_ = os.RemoveAll(workDir)
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	db.SetMaxOpenConns(1)

	sess := &session{db: db, workDir: workDir, scannedBytes: scannedBytes}
	for tableName, localPaths := range groupedPaths {
		loadSQL := fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS SELECT * FROM read_parquet(%s, union_by_name = true)`, quoteIdent(tableName), quoteStringArray(localPaths))
		if _, err := db.ExecContext(ctx, loadSQL); err != nil {
			sess.close()
			return nil, fmt.Errorf("load table %q: %w", tableName, err)
		}
	}
	for _, stmt := range lockdownStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			sess.close()
			return nil, fmt.Errorf("restrict query session: %w", err)
		}
	}
	return sess, nil
}

// lockdownStatements run after the tables are loaded, leaving a session that
// sees only its own tables.
var lockdownStatements = []string{
	"SET enable_external_access = false",
	"SET autoinstall_known_extensions = false",
	"SET autoload_known_extensions = false",
	"SET lock_configuration = true",
}

func (e *Engine) stage(ctx context.Context, objectPath, localPath string) error {
	reader, err := e.Store.Get(ctx, objectPath)
	if err != nil {
		return fmt.Errorf("get object %q: %w", objectPath, err)
	}
	defer func() { _ = reader.Close() }()

	file, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create local parquet file %q: %w", localPath, err)
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, reader); err != nil {
		return fmt.Errorf("write local parquet file %q: %w", localPath, err)
	}
	return nil
}

type floater interface {
	Float64() float64
}

func normalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		case *big.Int:
			if typed.IsInt64() {
				normalized[i] = typed.Int64()
			} else {
				normalized[i] = typed.String()
			}
		case floater:
			normalized[i] = typed.Float64()
		default:
			normalized[i] = typed
		}
	}
	return normalized
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteStringArray(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, value := range values {
		quoted = append(quoted, `'`+strings.ReplaceAll(value, `'`, `''`)+`'`)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "table"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
