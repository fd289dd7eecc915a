// Package chromem implements metadata.Store on chromem-go with one collection
// per tenant.
package chromem

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/parseqri/parseqri/internal/metadata"
	"github.com/parseqri/parseqri/internal/observability"
)

const (
	metaTenant = "tenant_id"
	metaTable  = "table"
	metaColumn = "column"
)

type Config struct {
	// Path enables persistence; empty keeps the index in memory.
	Path     string
	Compress bool
	Embed    metadata.EmbeddingFunc
	Logger   *slog.Logger
}

type Store struct {
	db     *chromemgo.DB
	embed  chromemgo.EmbeddingFunc
	logger *slog.Logger
	add    func(context.Context, *chromemgo.Collection, []chromemgo.Document) error

	mu      sync.Mutex
	tenants map[string]*sync.RWMutex
}

func Open(cfg Config) (*Store, error) {
	if cfg.Embed == nil {
		return nil, fmt.Errorf("metadata embedding func is required")
	}
	var (
		db  *chromemgo.DB
		err error
	)
	if cfg.Path == "" {
		db = chromemgo.NewDB()
	} else {
		db, err = chromemgo.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open metadata index: %w", err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.DiscardLogger()
	}
	return &Store{
		db:      db,
		embed:   chromemgo.EmbeddingFunc(cfg.Embed),
		logger:  logger,
		add:     addDocuments,
		tenants: make(map[string]*sync.RWMutex),
	}, nil
}

func addDocuments(ctx context.Context, collection *chromemgo.Collection, docs []chromemgo.Document) error {
	return collection.AddDocuments(ctx, docs, runtime.NumCPU())
}

func (s *Store) Search(ctx context.Context, tenantID, question string, k int) ([]metadata.Record, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, metadata.ErrTenantRequired
	}
	if k <= 0 || strings.TrimSpace(question) == "" {
		return nil, nil
	}

	lock := s.tenantLock(tenantID)
	lock.RLock()
	defer lock.RUnlock()

	collection := s.db.GetCollection(collectionName(tenantID), s.embed)
	if collection == nil {
		return nil, nil
	}
	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	if k > count {
		k = count
	}

	results, err := collection.Query(ctx, question, k, map[string]string{metaTenant: tenantID}, nil)
	if err != nil {
		return nil, fmt.Errorf("query metadata index: %w", err)
	}

	records := make([]metadata.Record, 0, len(results))
	for _, res := range results {
		if res.Metadata[metaTenant] != tenantID {
			s.logger.Error("metadata index returned foreign tenant record",
				slog.String("tenant_id", tenantID),
				slog.String("record_id", res.ID),
			)
			continue
		}
		records = append(records, metadata.Record{
			TenantID:    tenantID,
			Table:       res.Metadata[metaTable],
			Column:      res.Metadata[metaColumn],
			Description: descriptionFromContent(res.Content),
			Score:       res.Similarity,
		})
	}
	return records, nil
}

// Upsert replaces the records of every table present in records. Readers for
// the same tenant are blocked until the replacement is complete.
func (s *Store) Upsert(ctx context.Context, tenantID string, records []metadata.Record) error {
	if strings.TrimSpace(tenantID) == "" {
		return metadata.ErrTenantRequired
	}
	if len(records) == 0 {
		return nil
	}

	docs := make([]chromemgo.Document, 0, len(records))
	for _, rec := range records {
		if rec.TenantID != "" && rec.TenantID != tenantID {
			return fmt.Errorf("metadata record %s belongs to tenant %q, not %q", rec.ID(), rec.TenantID, tenantID)
		}
		if strings.TrimSpace(rec.Table) == "" {
			return fmt.Errorf("metadata record table is required")
		}
		rec.TenantID = tenantID
		embedding := rec.Embedding
		if len(embedding) == 0 {
			var err error
			embedding, err = s.embed(ctx, rec.Text())
			if err != nil {
				return fmt.Errorf("embed metadata %s: %w", rec.ID(), err)
			}
		}
		docs = append(docs, chromemgo.Document{
			ID:        rec.ID(),
			Content:   rec.Text(),
			Embedding: embedding,
			Metadata: map[string]string{
				metaTenant: tenantID,
				metaTable:  rec.Table,
				metaColumn: rec.Column,
			},
		})
	}

	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	collection, err := s.db.GetOrCreateCollection(collectionName(tenantID), map[string]string{metaTenant: tenantID}, s.embed)
	if err != nil {
		return fmt.Errorf("open tenant metadata collection: %w", err)
	}
	tables := metadata.Tables(records)
	previous, err := snapshot(ctx, collection, tables, docs[0].Embedding)
	if err != nil {
		s.logger.Warn("previous metadata cannot be restored if this upsert fails",
			slog.String("tenant_id", tenantID),
			slog.Any("tables", tables),
			slog.Any("error", err),
		)
	}

	if err := s.replace(ctx, collection, tables, docs); err != nil {
		if restoreErr := s.replace(context.WithoutCancel(ctx), collection, tables, previous); restoreErr != nil {
			s.logger.Error("metadata left partially replaced",
				slog.String("tenant_id", tenantID),
				slog.Any("tables", tables),
				slog.Any("error", err),
				slog.Any("restore_error", restoreErr),
			)
			return errors.Join(err, fmt.Errorf("restore previous metadata: %w", restoreErr))
		}
		s.logger.Warn("metadata upsert failed, previous records restored",
			slog.String("tenant_id", tenantID),
			slog.Any("tables", tables),
			slog.Int("restored", len(previous)),
			slog.Any("error", err),
		)
		return err
	}
	observability.ObserveMetadataUpsert(len(docs))
	return nil
}

// replace swaps the documents of tables for docs. AddDocuments stops quietly
// when ctx ends, so cancellation is checked once it returns.
func (s *Store) replace(ctx context.Context, collection *chromemgo.Collection, tables []string, docs []chromemgo.Document) error {
	for _, table := range tables {
		if collection.Count() == 0 {
			break
		}
		if err := collection.Delete(ctx, map[string]string{metaTable: table}, nil); err != nil {
			return fmt.Errorf("clear metadata for table %s: %w", table, err)
		}
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.add(ctx, collection, docs); err != nil {
		return fmt.Errorf("add metadata documents: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("add metadata documents: %w", err)
	}
	return nil
}

// snapshot copies the current documents of tables. Any vector of the index
// dimension can serve as the query since every match is returned.
func snapshot(ctx context.Context, collection *chromemgo.Collection, tables []string, vector []float32) ([]chromemgo.Document, error) {
	count := collection.Count()
	if count == 0 {
		return nil, nil
	}
	var docs []chromemgo.Document
	for _, table := range tables {
		results, err := collection.QueryEmbedding(ctx, vector, count, map[string]string{metaTable: table}, nil)
		if err != nil {
			return nil, fmt.Errorf("read metadata for table %s: %w", table, err)
		}
		for _, res := range results {
			docs = append(docs, chromemgo.Document{
				ID:        res.ID,
				Content:   res.Content,
				Embedding: res.Embedding,
				Metadata:  res.Metadata,
			})
		}
	}
	return docs, nil
}

// DeleteTable drops every record of one tenant table.
func (s *Store) DeleteTable(ctx context.Context, tenantID, table string) error {
	if strings.TrimSpace(tenantID) == "" {
		return metadata.ErrTenantRequired
	}
	lock := s.tenantLock(tenantID)
	lock.Lock()
	defer lock.Unlock()

	collection := s.db.GetCollection(collectionName(tenantID), s.embed)
	if collection == nil || collection.Count() == 0 {
		return nil
	}
	if err := collection.Delete(ctx, map[string]string{metaTable: table}, nil); err != nil {
		return fmt.Errorf("delete metadata for table %s: %w", table, err)
	}
	return nil
}

func (s *Store) Close() error { return nil }

func (s *Store) tenantLock(tenantID string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.tenants[tenantID]
	if !ok {
		lock = &sync.RWMutex{}
		s.tenants[tenantID] = lock
	}
	return lock
}

// collectionName hex-encodes the tenant id so distinct ids never map to the
// same collection.
func collectionName(tenantID string) string {
	return "tenant_" + hex.EncodeToString([]byte(tenantID))
}

func descriptionFromContent(content string) string {
	if idx := strings.Index(content, ": "); idx >= 0 {
		return content[idx+2:]
	}
	return content
}
