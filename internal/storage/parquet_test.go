package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/parquet-go/parquet-go"
)

type orderRow struct {
	OrderID int64   `parquet:"order_id"`
	Country string  `parquet:"country"`
	Amount  float64 `parquet:"amount"`
}

type memoryStore struct {
	objects map[string][]byte
}

func (m memoryStore) Put(context.Context, string, io.Reader, int64, PutOptions) (ObjectInfo, error) {
	return ObjectInfo{}, errors.New("read only")
}

func (m memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m memoryStore) Stat(_ context.Context, key string) (ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return ObjectInfo{}, ErrObjectNotFound
	}
	return ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m memoryStore) List(context.Context, string) ([]ObjectInfo, error) { return nil, nil }

func (m memoryStore) Delete(context.Context, string) error { return nil }

func encodeOrders(t *testing.T, rows []orderRow) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[orderRow](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("write parquet rows: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close parquet writer: %v", err)
	}
	return buf.Bytes()
}

func TestSummarizeParquet(t *testing.T) {
	data := encodeOrders(t, []orderRow{
		{OrderID: 1, Country: "DE", Amount: 10.5},
		{OrderID: 2, Country: "FR", Amount: 3},
		{OrderID: 3, Country: "DE", Amount: 7.25},
	})

	summary, err := SummarizeParquet(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("SummarizeParquet() error = %v", err)
	}
	if summary.RecordCount != 3 {
		t.Fatalf("RecordCount = %d", summary.RecordCount)
	}
	want := []string{"order_id", "country", "amount"}
	if len(summary.Columns) != len(want) {
		t.Fatalf("Columns = %#v", summary.Columns)
	}
	for i, name := range want {
		if summary.Columns[i] != name {
			t.Fatalf("Columns = %#v", summary.Columns)
		}
	}
}

func TestInspectParquetBuffersSequentialReaders(t *testing.T) {
	key := "tenants/u1/orders/part-0.parquet"
	store := memoryStore{objects: map[string][]byte{
		key: encodeOrders(t, []orderRow{{OrderID: 1, Country: "DE", Amount: 1}}),
	}}

	summary, err := InspectParquet(context.Background(), store, key, 0)
	if err != nil {
		t.Fatalf("InspectParquet() error = %v", err)
	}
	if summary.RecordCount != 1 {
		t.Fatalf("RecordCount = %d", summary.RecordCount)
	}
}

func TestInspectParquetRejectsOtherContent(t *testing.T) {
	key := "tenants/u1/orders/notes.parquet"
	store := memoryStore{objects: map[string][]byte{key: []byte("order_id,country\n1,DE\n")}}

	_, err := InspectParquet(context.Background(), store, key, 22)
	if !errors.Is(err, ErrNotParquet) {
		t.Fatalf("expected ErrNotParquet, got %v", err)
	}

	_, err = InspectParquet(context.Background(), store, "tenants/u1/orders/missing.parquet", 10)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected ErrObjectNotFound, got %v", err)
	}
}
