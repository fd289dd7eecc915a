//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/parseqri/parseqri/internal/storage"
)

func TestStoreListsTenantTableFilesAgainstMinIO(t *testing.T) {
	endpoint := envOr("PARSEQRI_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("PARSEQRI_TEST_S3_ENDPOINT is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, Config{
		Endpoint:         endpoint,
		Region:           envOr("PARSEQRI_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("PARSEQRI_TEST_S3_BUCKET", "parseqri-it"),
		AccessKeyID:      envOr("PARSEQRI_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("PARSEQRI_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	prefix, err := storage.TablePrefix("u1", "customer")
	if err != nil {
		t.Fatalf("TablePrefix() error = %v", err)
	}
	keys := []string{prefix + "b.parquet", prefix + "a.parquet"}
	payload := []byte("parseqri-integration")
	for _, key := range keys {
		if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: storage.ParquetContentType}); err != nil {
			t.Fatalf("Put(%q) error = %v", key, err)
		}
	}
	t.Cleanup(func() {
		for _, key := range keys {
			_ = store.Delete(context.Background(), key)
		}
	})

	objects, err := store.List(ctx, prefix)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(objects) != 2 || objects[0].Key != prefix+"a.parquet" {
		t.Fatalf("List() = %+v", objects)
	}
	if objects[0].Size != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", objects[0].Size, len(payload))
	}

	if err := store.Delete(ctx, keys[0]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Stat(ctx, keys[0]); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Stat() after delete error = %v, want ErrObjectNotFound", err)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
