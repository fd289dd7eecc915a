// Package migrations applies the embedded catalog schema scripts.
package migrations

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const (
	ledgerTable = "parseqri_schema_migrations"
	// lockKey is the advisory lock id shared by every parseqri migrator.
	lockKey int64 = 0x7061727365717269
)

var scriptNamePattern = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.(up|down)\.sql$`)

// ErrChecksumMismatch reports an applied migration whose up script has
// changed since it ran.
var ErrChecksumMismatch = errors.New("applied migration no longer matches its script")

type Runner struct {
	fsys fs.FS
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS}
}

// VersionStatus is one row of the migration status report.
type VersionStatus struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
	// Drifted is set when the recorded checksum differs from the embedded
	// up script.
	Drifted bool
}

type script struct {
	Version  int64
	Name     string
	Up       string
	Down     string
	Checksum string
}

func (s script) label() string {
	return fmt.Sprintf("%06d_%s", s.Version, s.Name)
}

type ledgerRow struct {
	Checksum  string
	AppliedAt time.Time
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Up applies pending scripts in version order, at most steps of them when
// steps > 0. It refuses to continue past an applied script that changed.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	applied := 0
	err := r.withLock(ctx, db, func(conn *sql.Conn, scripts []script, ledger map[int64]ledgerRow) error {
		for _, s := range scripts {
			if row, done := ledger[s.Version]; done {
				if row.Checksum != "" && row.Checksum != s.Checksum {
					return fmt.Errorf("%w: %s", ErrChecksumMismatch, s.label())
				}
				continue
			}
			if steps > 0 && applied >= steps {
				return nil
			}
			err := runInTx(ctx, conn, s.Up,
				`INSERT INTO `+ledgerTable+` (version, name, checksum) VALUES ($1, $2, $3)`,
				s.Version, s.Name, s.Checksum)
			if err != nil {
				return fmt.Errorf("apply %s: %w", s.label(), err)
			}
			applied++
		}
		return nil
	})
	return applied, err
}

// Down rolls back the newest applied scripts, one when steps <= 0.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	rolledBack := 0
	err := r.withLock(ctx, db, func(conn *sql.Conn, scripts []script, ledger map[int64]ledgerRow) error {
		byVersion := make(map[int64]script, len(scripts))
		for _, s := range scripts {
			byVersion[s.Version] = s
		}
		versions := make([]int64, 0, len(ledger))
		for version := range ledger {
			versions = append(versions, version)
		}
		sort.Slice(versions, func(i, j int) bool { return versions[i] > versions[j] })

		for _, version := range versions {
			if rolledBack >= steps {
				break
			}
			s, ok := byVersion[version]
			if !ok {
				return fmt.Errorf("applied migration %d has no embedded script", version)
			}
			err := runInTx(ctx, conn, s.Down, `DELETE FROM `+ledgerTable+` WHERE version = $1`, s.Version)
			if err != nil {
				return fmt.Errorf("roll back %s: %w", s.label(), err)
			}
			rolledBack++
		}
		return nil
	})
	return rolledBack, err
}

// Status reports every embedded script against the ledger without taking
// the migration lock.
func (r *Runner) Status(ctx context.Context, db *sql.DB) ([]VersionStatus, error) {
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return nil, err
	}
	ledger, err := readLedger(ctx, db)
	if err != nil {
		return nil, err
	}
	out := make([]VersionStatus, 0, len(scripts))
	for _, s := range scripts {
		status := VersionStatus{Version: s.Version, Name: s.Name}
		if row, ok := ledger[s.Version]; ok {
			status.Applied = true
			status.AppliedAt = row.AppliedAt
			status.Drifted = row.Checksum != "" && row.Checksum != s.Checksum
		}
		out = append(out, status)
	}
	return out, nil
}

// withLock pins one connection, holds the advisory lock on it for the
// duration of fn and hands fn the scripts and the current ledger.
func (r *Runner) withLock(ctx context.Context, db *sql.DB, fn func(*sql.Conn, []script, map[int64]ledgerRow) error) error {
	scripts, err := loadScripts(r.fsys)
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("reserve migration connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, lockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, lockKey)
	}()

	ledger, err := readLedger(ctx, conn)
	if err != nil {
		return err
	}
	return fn(conn, scripts, ledger)
}

func readLedger(ctx context.Context, q querier) (map[int64]ledgerRow, error) {
	_, err := q.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	checksum TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	if err != nil {
		return nil, fmt.Errorf("ensure migration ledger: %w", err)
	}

	rows, err := q.QueryContext(ctx, `SELECT version, checksum, applied_at FROM `+ledgerTable+` ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	defer func() { _ = rows.Close() }()

	ledger := map[int64]ledgerRow{}
	for rows.Next() {
		var version int64
		var row ledgerRow
		if err := rows.Scan(&version, &row.Checksum, &row.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan migration ledger: %w", err)
		}
		ledger[version] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read migration ledger: %w", err)
	}
	return ledger, nil
}

func runInTx(ctx context.Context, conn *sql.Conn, body, record string, args ...any) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return fmt.Errorf("update ledger: %w", err)
	}
	return tx.Commit()
}

// loadScripts pairs sql/<version>_<name>.<up|down>.sql files by version.
// Every version needs both directions.
func loadScripts(fsys fs.FS) ([]script, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration scripts: %w", err)
	}

	byVersion := map[int64]*script{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := scriptNamePattern.FindStringSubmatch(entry.Name())
		if parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q: bad version: %w", entry.Name(), err)
		}
		body, err := fs.ReadFile(fsys, "sql/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		s, ok := byVersion[version]
		if !ok {
			s = &script{Version: version, Name: parts[2]}
			byVersion[version] = s
		} else if s.Name != parts[2] {
			return nil, fmt.Errorf("migration %d is named both %q and %q", version, s.Name, parts[2])
		}
		if parts[3] == "up" {
			s.Up = string(body)
		} else {
			s.Down = string(body)
		}
	}

	out := make([]script, 0, len(byVersion))
	for _, s := range byVersion {
		if strings.TrimSpace(s.Up) == "" {
			return nil, fmt.Errorf("migration %s missing up SQL", s.label())
		}
		if strings.TrimSpace(s.Down) == "" {
			return nil, fmt.Errorf("migration %s missing down SQL", s.label())
		}
		s.Checksum = checksum(s.Up)
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func checksum(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
