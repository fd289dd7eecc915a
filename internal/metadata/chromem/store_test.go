package chromem

import (
	"context"
	"errors"
	"sync"
	"testing"

	chromemgo "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parseqri/parseqri/internal/metadata"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(Config{Embed: metadata.HashEmbedder(128)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func customerRecords(tenant string) []metadata.Record {
	return metadata.BuildRecords(tenant, "customer", "customers of the shop", []metadata.Column{
		{Name: "customer_id", Type: "BIGINT"},
		{Name: "name", Type: "VARCHAR"},
		{Name: "country", Type: "VARCHAR"},
	}, map[string]string{"country": "country the customer lives in"})
}

func TestSearchRanksRelevantColumnFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "u1", customerRecords("u1")))

	results, err := store.Search(ctx, "u1", "customers from which country", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	found := false
	for _, r := range results {
		assert.Equal(t, "u1", r.TenantID)
		assert.Equal(t, "customer", r.Table)
		if r.Column == "country" {
			found = true
			assert.Equal(t, "country the customer lives in", r.Description)
		}
	}
	assert.True(t, found, "expected country column among top results: %+v", results)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearchNeverReturnsOtherTenantRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "tenant-a", customerRecords("tenant-a")))
	require.NoError(t, store.Upsert(ctx, "tenant-b", customerRecords("tenant-b")))

	for _, tenant := range []string{"tenant-a", "tenant-b"} {
		results, err := store.Search(ctx, tenant, "customer country", 10)
		require.NoError(t, err)
		require.NotEmpty(t, results)
		for _, r := range results {
			assert.Equal(t, tenant, r.TenantID)
		}
	}

	results, err := store.Search(ctx, "tenant-c", "customer country", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchClampsKToCollectionSize(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "u1", customerRecords("u1")))

	results, err := store.Search(ctx, "u1", "name", 50)
	require.NoError(t, err)
	assert.Len(t, results, 4)
}

func TestUpsertReplacesTableRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "u1", customerRecords("u1")))

	replacement := metadata.BuildRecords("u1", "customer", "", []metadata.Column{{Name: "email", Type: "VARCHAR"}}, nil)
	require.NoError(t, store.Upsert(ctx, "u1", replacement))

	results, err := store.Search(ctx, "u1", "customer", 10)
	require.NoError(t, err)
	assert.Len(t, results, 2)
	for _, r := range results {
		assert.NotEqual(t, "country", r.Column)
	}
}

func TestUpsertRejectsForeignTenantRecord(t *testing.T) {
	store := newTestStore(t)
	err := store.Upsert(context.Background(), "u1", customerRecords("u2"))
	assert.Error(t, err)
}

func TestTenantIDRequired(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Search(context.Background(), "", "q", 3)
	assert.ErrorIs(t, err, metadata.ErrTenantRequired)
	assert.ErrorIs(t, store.Upsert(context.Background(), " ", customerRecords("")), metadata.ErrTenantRequired)
}

func TestConcurrentResyncsForSameTenantDoNotInterleave(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, store.Upsert(ctx, "u1", customerRecords("u1")))
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			results, err := store.Search(ctx, "u1", "country", 10)
			assert.NoError(t, err)
			if len(results) > 0 {
				// A reader sees either nothing or the whole table.
				assert.Len(t, results, 4)
			}
		}()
	}
	wg.Wait()
}

func TestOpenRequiresEmbedder(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestDeleteTableRemovesOnlyThatTable(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "u1", customerRecords("u1")))
	orders := metadata.BuildRecords("u1", "orders", "orders placed", []metadata.Column{{Name: "total", Type: "DOUBLE"}}, nil)
	require.NoError(t, store.Upsert(ctx, "u1", orders))

	require.NoError(t, store.DeleteTable(ctx, "u1", "customer"))

	results, err := store.Search(ctx, "u1", "customer country", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "orders", r.Table)
	}
	assert.NoError(t, store.DeleteTable(ctx, "u2", "customer"))
}

func columnsOf(t *testing.T, store *Store, tenant string) []string {
	t.Helper()
	results, err := store.Search(context.Background(), tenant, "customer", 50)
	require.NoError(t, err)
	columns := make([]string, 0, len(results))
	for _, r := range results {
		columns = append(columns, r.Column)
	}
	return columns
}

func TestUpsertFailureRestoresPreviousRecords(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, "u1", customerRecords("u1")))
	before := columnsOf(t, store, "u1")
	require.Len(t, before, 4)

	failures := 1
	store.add = func(ctx context.Context, collection *chromemgo.Collection, docs []chromemgo.Document) error {
		if failures > 0 {
			failures--
			require.NoError(t, collection.AddDocument(ctx, docs[0]))
			return errors.New("write metadata document: no space left on device")
		}
		return addDocuments(ctx, collection, docs)
	}

	replacement := metadata.BuildRecords("u1", "customer", "", []metadata.Column{
		{Name: "email", Type: "VARCHAR"},
		{Name: "phone", Type: "VARCHAR"},
	}, nil)
	err := store.Upsert(ctx, "u1", replacement)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no space left on device")

	assert.ElementsMatch(t, before, columnsOf(t, store, "u1"))
}

func TestUpsertCancelledKeepsPreviousRecords(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Upsert(context.Background(), "u1", customerRecords("u1")))
	before := columnsOf(t, store, "u1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	replacement := metadata.BuildRecords("u1", "customer", "", []metadata.Column{{Name: "email", Type: "VARCHAR"}}, nil)
	err := store.Upsert(ctx, "u1", replacement)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ElementsMatch(t, before, columnsOf(t, store, "u1"))
}
