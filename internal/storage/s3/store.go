// Package s3 stores tenant data files in an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/parseqri/parseqri/internal/storage"
)

// tenantMetadataKey is the user metadata entry naming the owning tenant.
const tenantMetadataKey = "parseqri-tenant"

type Config struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type putRequest struct {
	Bucket      string
	Key         string
	Body        io.Reader
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// objectAPI is the slice of the bucket client the store needs. Errors that
// mean a missing object or a refused request come back as the storage
// sentinels.
type objectAPI interface {
	Put(ctx context.Context, req putRequest) (storage.ObjectInfo, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (storage.ObjectInfo, error)
	List(ctx context.Context, bucket, prefix string) ([]storage.ObjectInfo, error)
	Delete(ctx context.Context, bucket, key string) error
	BucketExists(ctx context.Context, bucket string) (bool, error)
	CreateBucket(ctx context.Context, bucket, region string) error
}

// Store maps tenant-relative keys onto objects below an optional root
// prefix in one bucket.
type Store struct {
	api    objectAPI
	bucket string
	root   string
}

func New(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	api, err := newMinioAPI(cfg)
	if err != nil {
		return nil, err
	}
	store, err := NewWithClient(cfg.Bucket, cfg.Prefix, api)
	if err != nil {
		return nil, err
	}
	if cfg.AutoCreateBucket {
		if err := store.ensureBucket(ctx, strings.TrimSpace(cfg.Region)); err != nil {
			return nil, err
		}
	}
	return store, nil
}

func NewWithClient(bucket, prefix string, api objectAPI) (*Store, error) {
	if api == nil {
		return nil, fmt.Errorf("s3 client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}
	return &Store{api: api, bucket: bucket, root: cleanRoot(prefix)}, nil
}

// Put uploads body under key. Objects under a tenant prefix are tagged with
// the tenant id so that bucket tooling can attribute them.
func (s *Store) Put(ctx context.Context, key string, body io.Reader, size int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = storage.ContentTypeFor(key)
	}
	metadata := make(map[string]string, len(opts.Metadata)+1)
	for k, v := range opts.Metadata {
		metadata[k] = v
	}
	if tenantID, ok := storage.TenantOf(key); ok {
		metadata[tenantMetadataKey] = tenantID
	}

	info, err := s.api.Put(ctx, putRequest{
		Bucket:      s.bucket,
		Key:         objectKey,
		Body:        body,
		Size:        size,
		ContentType: contentType,
		Metadata:    metadata,
	})
	if err != nil {
		return storage.ObjectInfo{}, opError("put", objectKey, err)
	}
	info.Key = s.relativeKey(info.Key)
	if info.ContentType == "" {
		info.ContentType = contentType
	}
	return info, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	reader, err := s.api.Get(ctx, s.bucket, objectKey)
	if err != nil {
		return nil, opError("get", objectKey, err)
	}
	return reader, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.api.Stat(ctx, s.bucket, objectKey)
	if err != nil {
		return storage.ObjectInfo{}, opError("stat", objectKey, err)
	}
	info.Key = s.relativeKey(info.Key)
	return info, nil
}

// List returns the objects under prefix with keys relative to the store
// root, sorted by key. Directory markers are skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objectPrefix, err := s.objectKey(prefix)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(prefix, "/") {
		objectPrefix += "/"
	}
	objects, err := s.api.List(ctx, s.bucket, objectPrefix)
	if err != nil {
		return nil, opError("list", objectPrefix, err)
	}
	out := make([]storage.ObjectInfo, 0, len(objects))
	for _, obj := range objects {
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		obj.Key = s.relativeKey(obj.Key)
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Delete removes key. Deleting a missing object succeeds.
func (s *Store) Delete(ctx context.Context, key string) error {
	objectKey, err := s.objectKey(key)
	if err != nil {
		return err
	}
	err = s.api.Delete(ctx, s.bucket, objectKey)
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return opError("delete", objectKey, err)
	}
	return nil
}

func (s *Store) ensureBucket(ctx context.Context, region string) error {
	exists, err := s.api.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %q: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.api.CreateBucket(ctx, s.bucket, region); err != nil {
		return fmt.Errorf("create bucket %q: %w", s.bucket, err)
	}
	return nil
}

// objectKey resolves a store-relative key to the bucket key, refusing keys
// that climb out of the root.
func (s *Store) objectKey(key string) (string, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(key, "/"))
	if trimmed == "" {
		return "", fmt.Errorf("object key is required")
	}
	cleaned := path.Clean(trimmed)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("invalid object key: %q", key)
	}
	if s.root == "" {
		return cleaned, nil
	}
	return s.root + "/" + cleaned, nil
}

func (s *Store) relativeKey(objectKey string) string {
	if s.root == "" {
		return objectKey
	}
	return strings.TrimPrefix(objectKey, s.root+"/")
}

// opError keeps the storage sentinels visible through errors.Is.
func opError(op, objectKey string, err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotFound):
		return fmt.Errorf("%s %q: %w", op, objectKey, storage.ErrObjectNotFound)
	case errors.Is(err, storage.ErrAccessDenied):
		return fmt.Errorf("%s %q: %w", op, objectKey, storage.ErrAccessDenied)
	default:
		return fmt.Errorf("%s object %q: %w", op, objectKey, err)
	}
}

func cleanRoot(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if cleaned := path.Clean(prefix); cleaned != "." {
		return cleaned
	}
	return ""
}
