package querycache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresStore keeps entries in the catalog database's query_cache table.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

func NewPostgresStore(db *sql.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, error) {
	query := `
SELECT sql_text, intent, updated_at
FROM query_cache
WHERE cache_key = $1`

	var (
		entry     Entry
		updatedAt time.Time
	)
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&entry.SQL, &entry.Intent, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrMiss
		}
		return Entry{}, fmt.Errorf("get query cache entry: %w", err)
	}
	if s.ttl > 0 && time.Since(updatedAt) > s.ttl {
		return Entry{}, ErrMiss
	}
	return entry, nil
}

// Put upserts the entry. The WHERE clause turns an identical rewrite into a
// no-op so updated_at only moves when the SQL actually changes.
func (s *PostgresStore) Put(ctx context.Context, key string, entry Entry) error {
	if _, err := encodeEntry(entry); err != nil {
		return err
	}
	query := `
INSERT INTO query_cache (cache_key, sql_text, intent)
VALUES ($1, $2, $3)
ON CONFLICT (cache_key)
DO UPDATE SET sql_text = EXCLUDED.sql_text, intent = EXCLUDED.intent, updated_at = NOW()
WHERE query_cache.sql_text IS DISTINCT FROM EXCLUDED.sql_text
   OR query_cache.intent IS DISTINCT FROM EXCLUDED.intent`
	if _, err := s.db.ExecContext(ctx, query, key, entry.SQL, entry.Intent); err != nil {
		return fmt.Errorf("put query cache entry: %w", err)
	}
	return nil
}

// Prune deletes entries older than the configured TTL.
func (s *PostgresStore) Prune(ctx context.Context) (int64, error) {
	if s.ttl <= 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM query_cache WHERE updated_at < $1`, time.Now().UTC().Add(-s.ttl))
	if err != nil {
		return 0, fmt.Errorf("prune query cache: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune query cache rows affected: %w", err)
	}
	return deleted, nil
}

// Close is a no-op; the database handle is owned by the caller.
func (s *PostgresStore) Close() error { return nil }
