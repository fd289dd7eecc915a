package querycache

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresStoreGetMiss(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewPostgresStore(db, 0)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT sql_text, intent, updated_at
FROM query_cache
WHERE cache_key = $1`)).
		WithArgs("k").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.Get(context.Background(), "k"); err != ErrMiss {
		t.Fatalf("Get() error = %v, want ErrMiss", err)
	}
	assertSQLMock(t, mock)
}

func TestPostgresStoreGetExpired(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewPostgresStore(db, time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(`
SELECT sql_text, intent, updated_at
FROM query_cache
WHERE cache_key = $1`)).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"sql_text", "intent", "updated_at"}).
			AddRow("SELECT 1", "data_retrieval", time.Now().Add(-2*time.Hour)))

	if _, err := store.Get(context.Background(), "k"); err != ErrMiss {
		t.Fatalf("Get() error = %v, want ErrMiss", err)
	}
	assertSQLMock(t, mock)
}

func TestPostgresStorePutUpserts(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewPostgresStore(db, 0)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO query_cache (cache_key, sql_text, intent)
VALUES ($1, $2, $3)
ON CONFLICT (cache_key)
DO UPDATE SET sql_text = EXCLUDED.sql_text, intent = EXCLUDED.intent, updated_at = NOW()
WHERE query_cache.sql_text IS DISTINCT FROM EXCLUDED.sql_text
   OR query_cache.intent IS DISTINCT FROM EXCLUDED.intent`)).
		WithArgs("k", "SELECT 1", "visualization").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Put(context.Background(), "k", Entry{SQL: "SELECT 1", Intent: "visualization"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestPostgresStorePrune(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewPostgresStore(db, time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM query_cache WHERE updated_at < $1`)).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 4))

	deleted, err := store.Prune(context.Background())
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 4 {
		t.Fatalf("deleted = %d", deleted)
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
