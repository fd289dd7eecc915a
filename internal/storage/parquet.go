package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// ErrNotParquet is returned when an object cannot be opened as a parquet file.
var ErrNotParquet = errors.New("object is not a readable parquet file")

type ParquetSummary struct {
	RecordCount int64
	Columns     []string
}

// InspectParquet reads only the footer of the parquet object at key. Stores
// whose readers support random access are not downloaded in full.
func InspectParquet(ctx context.Context, store ObjectStore, key string, size int64) (ParquetSummary, error) {
	body, err := store.Get(ctx, key)
	if err != nil {
		return ParquetSummary{}, err
	}
	defer func() { _ = body.Close() }()

	readerAt, ok := body.(io.ReaderAt)
	if !ok || size <= 0 {
		data, err := io.ReadAll(body)
		if err != nil {
			return ParquetSummary{}, fmt.Errorf("read %q: %w", key, err)
		}
		readerAt, size = bytes.NewReader(data), int64(len(data))
	}
	summary, err := SummarizeParquet(readerAt, size)
	if err != nil {
		return ParquetSummary{}, fmt.Errorf("%s: %w", key, err)
	}
	return summary, nil
}

func SummarizeParquet(r io.ReaderAt, size int64) (ParquetSummary, error) {
	file, err := parquet.OpenFile(r, size, parquet.SkipPageIndex(true), parquet.SkipBloomFilters(true))
	if err != nil {
		return ParquetSummary{}, fmt.Errorf("%w: %v", ErrNotParquet, err)
	}
	fields := file.Schema().Fields()
	columns := make([]string, 0, len(fields))
	for _, field := range fields {
		columns = append(columns, field.Name())
	}
	return ParquetSummary{RecordCount: file.NumRows(), Columns: columns}, nil
}
