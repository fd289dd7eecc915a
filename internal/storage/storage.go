package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrObjectNotFound = errors.New("object not found")
	// ErrAccessDenied means the store credentials cannot reach the object.
	ErrAccessDenied = errors.New("object store access denied")
)

// ObjectInfo describes one stored data file.
type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

// PutOptions tune an upload. An empty ContentType is derived from the key
// and Metadata is stored as user metadata next to the object.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// ObjectStore holds tenant data files. Keys are relative to the store's
// configured prefix.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
