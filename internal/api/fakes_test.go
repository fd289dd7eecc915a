package api

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/parseqri/parseqri/internal/catalog"
	"github.com/parseqri/parseqri/internal/metadata"
	"github.com/parseqri/parseqri/internal/pipeline"
	"github.com/parseqri/parseqri/internal/storage"
)

type fakeCatalog struct {
	mu     sync.Mutex
	nextID int64
	tables map[string]catalog.TableDef
	files  map[string][]catalog.DataFileEntry
	descs  map[string]map[string]string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		tables: map[string]catalog.TableDef{},
		files:  map[string][]catalog.DataFileEntry{},
		descs:  map[string]map[string]string{},
	}
}

func fakeKey(tenantID, table string) string { return tenantID + "/" + table }

func (c *fakeCatalog) CreateTable(_ context.Context, in catalog.CreateTableInput) (catalog.TableDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createLocked(in), nil
}

func (c *fakeCatalog) createLocked(in catalog.CreateTableInput) catalog.TableDef {
	key := fakeKey(in.TenantID, in.TableName)
	now := time.Now().UTC()
	table, ok := c.tables[key]
	if !ok {
		c.nextID++
		table = catalog.TableDef{TableID: c.nextID, TenantID: in.TenantID, TableName: in.TableName, CreatedAt: now}
	}
	if in.Description != "" {
		table.Description = in.Description
	}
	table.UpdatedAt = now
	c.tables[key] = table
	return table
}

func (c *fakeCatalog) GetTableByName(_ context.Context, tenantID, tableName string) (catalog.TableDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table, ok := c.tables[fakeKey(tenantID, tableName)]
	if !ok {
		return catalog.TableDef{}, catalog.ErrNotFound
	}
	return table, nil
}

func (c *fakeCatalog) ListTables(_ context.Context, tenantID string) ([]catalog.TableDef, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.TableDef, 0)
	for _, table := range c.tables {
		if table.TenantID == tenantID {
			out = append(out, table)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TableName < out[j].TableName })
	return out, nil
}

func (c *fakeCatalog) DeleteTableByName(_ context.Context, tenantID, tableName string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fakeKey(tenantID, tableName)
	if _, ok := c.tables[key]; !ok {
		return false, nil
	}
	delete(c.tables, key)
	delete(c.files, key)
	return true, nil
}

func (c *fakeCatalog) ListTableDataFiles(_ context.Context, tenantID, tableName string) ([]catalog.DataFileEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]catalog.DataFileEntry(nil), c.files[fakeKey(tenantID, tableName)]...), nil
}

func (c *fakeCatalog) ConnectTable(_ context.Context, in catalog.ConnectTableInput) (catalog.TableDef, []catalog.DataFile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	table := c.createLocked(catalog.CreateTableInput{TenantID: in.TenantID, TableName: in.TableName, Description: in.Description})
	key := fakeKey(in.TenantID, in.TableName)
	files := make([]catalog.DataFile, 0, len(in.Files))
	for i, f := range in.Files {
		files = append(files, catalog.DataFile{FileID: int64(i + 1), TenantID: in.TenantID, TableID: table.TableID, Path: f.Path, RecordCount: f.RecordCount, FileSizeBytes: f.FileSizeBytes})
		c.files[key] = append(c.files[key], catalog.DataFileEntry{TableID: table.TableID, TableName: in.TableName, FileID: int64(i + 1), Path: f.Path, FileSizeBytes: f.FileSizeBytes, RecordCount: f.RecordCount})
	}
	return table, files, nil
}

func (c *fakeCatalog) UpsertColumnDescription(_ context.Context, in catalog.UpsertColumnDescriptionInput) (catalog.ColumnDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, table := range c.tables {
		if table.TableID != in.TableID {
			continue
		}
		if c.descs[key] == nil {
			c.descs[key] = map[string]string{}
		}
		c.descs[key][in.ColumnName] = in.Description
	}
	return catalog.ColumnDescription{TableID: in.TableID, ColumnName: in.ColumnName, Description: in.Description}, nil
}

func (c *fakeCatalog) ListColumnDescriptions(_ context.Context, tenantID, tableName string) ([]catalog.ColumnDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]catalog.ColumnDescription, 0)
	for column, desc := range c.descs[fakeKey(tenantID, tableName)] {
		out = append(out, catalog.ColumnDescription{ColumnName: column, Description: desc})
	}
	return out, nil
}

type fakeObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

type customerRow struct {
	CustomerID int64  `parquet:"customer_id"`
	Name       string `parquet:"name"`
	Country    string `parquet:"country"`
}

// customerParquet holds two customer rows encoded as parquet.
var customerParquet = func() []byte {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[customerRow](buf)
	rows := []customerRow{{CustomerID: 1, Name: "Ada", Country: "UK"}, {CustomerID: 2, Name: "Linus", Country: "FI"}}
	if _, err := writer.Write(rows); err != nil {
		panic(err)
	}
	if err := writer.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}()

func newFakeObjects(keys ...string) *fakeObjects {
	objects := map[string][]byte{}
	for _, key := range keys {
		objects[key] = customerParquet
	}
	return &fakeObjects{objects: objects}
}

func (o *fakeObjects) putRaw(key string, data []byte) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
}

func (o *fakeObjects) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ETag: "etag"}, nil
}

func (o *fakeObjects) Get(_ context.Context, key string) (io.ReadCloser, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (o *fakeObjects) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	data, ok := o.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (o *fakeObjects) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]storage.ObjectInfo, 0)
	for key, data := range o.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (o *fakeObjects) Delete(_ context.Context, key string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.objects, key)
	return nil
}

type fakeSchemas struct {
	schema      pipeline.Schema
	err         error
	invalidated []string
}

func (s *fakeSchemas) Resolve(context.Context, string, string) (pipeline.Schema, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.schema, nil
}

func (s *fakeSchemas) Invalidate(tenantID, tableRef string) {
	s.invalidated = append(s.invalidated, fakeKey(tenantID, tableRef))
}

type fakeMetadata struct {
	mu      sync.Mutex
	records map[string][]metadata.Record
	deleted []string
}

func newFakeMetadata() *fakeMetadata {
	return &fakeMetadata{records: map[string][]metadata.Record{}}
}

func (m *fakeMetadata) Search(context.Context, string, string, int) ([]metadata.Record, error) {
	return nil, nil
}

func (m *fakeMetadata) Upsert(_ context.Context, tenantID string, records []metadata.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[tenantID] = append([]metadata.Record(nil), records...)
	return nil
}

func (m *fakeMetadata) DeleteTable(_ context.Context, tenantID, table string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, fakeKey(tenantID, table))
	return nil
}

func (m *fakeMetadata) Close() error { return nil }

type fakePipeline struct {
	qc  *pipeline.QueryContext
	err error

	gotQuestion string
	gotTenant   string
	gotTable    string
}

func (p *fakePipeline) Process(_ context.Context, question, tenantID, tableRef string) (*pipeline.QueryContext, error) {
	p.gotQuestion = question
	p.gotTenant = tenantID
	p.gotTable = tableRef
	return p.qc, p.err
}

func customerSchema() pipeline.Schema {
	return pipeline.Schema{
		{Name: "customer_id", Type: "BIGINT"},
		{Name: "name", Type: "VARCHAR"},
		{Name: "country", Type: "VARCHAR"},
	}
}
