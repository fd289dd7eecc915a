// Package querycache maps (normalized question, table, tenant) to previously
// validated SQL so repeat questions skip generation.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	ErrMiss           = errors.New("querycache: miss")
	ErrTenantRequired = errors.New("querycache: tenant id is required")
)

// Entry is the cached value for one key. Intent is the label the question was
// classified with when the SQL was generated, so a cache hit can still take the
// chart branch without re-classifying.
type Entry struct {
	SQL    string `json:"sql"`
	Intent string `json:"intent,omitempty"`
}

// Store is a concurrent-safe key/value store for cache entries. Get returns
// ErrMiss when the key is absent or expired. Put overwrites; storing an
// identical entry twice has no visible effect.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	Put(ctx context.Context, key string, entry Entry) error
	Close() error
}

// Key derives the cache key. Components are length-prefixed before hashing so
// that ("ab", "c") and ("a", "bc") never collide.
func Key(question, tableRef, tenantID string) (string, error) {
	return VersionedKey(question, tableRef, "", tenantID)
}

// VersionedKey is Key scoped to one incarnation of the table. Dropping,
// re-creating or reconnecting a table changes its version, which retires every
// entry generated against the old layout.
func VersionedKey(question, tableRef, tableVersion, tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", ErrTenantRequired
	}
	h := sha256.New()
	for _, part := range []string{tenantID, strings.ToLower(strings.TrimSpace(tableRef)), tableVersion, Normalize(question)} {
		var size [8]byte
		binary.BigEndian.PutUint64(size[:], uint64(len(part)))
		h.Write(size[:])
		h.Write([]byte(part))
	}
	return "q:" + hex.EncodeToString(h.Sum(nil)), nil
}

// Normalize lowercases the question, collapses whitespace and drops trailing
// punctuation, so "Show me  customers?" and "show me customers" share a key.
func Normalize(question string) string {
	fields := strings.Fields(strings.ToLower(question))
	normalized := strings.Join(fields, " ")
	return strings.TrimRightFunc(normalized, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}

func encodeEntry(entry Entry) ([]byte, error) {
	if strings.TrimSpace(entry.SQL) == "" {
		return nil, fmt.Errorf("querycache: refusing to store empty sql")
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode cache entry: %w", err)
	}
	return payload, nil
}

func decodeEntry(payload []byte) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode cache entry: %w", err)
	}
	if entry.SQL == "" {
		return Entry{}, ErrMiss
	}
	return entry, nil
}
