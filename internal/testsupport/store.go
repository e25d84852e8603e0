package testsupport

import (
	"context"
	"fmt"
	"testing"

	"pulp/internal/catalog"
	"pulp/internal/config"
)

// MustOpenCatalog opens a catalog.Store for tests and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.Open(cfg.CatalogPath())
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SeedBatch creates a batch with count pending documents and returns it.
// Document IDs follow the pattern <batchID>-doc-<index>.
func SeedBatch(t testing.TB, store *catalog.Store, batchID string, count int) *catalog.Batch {
	t.Helper()

	docs := make([]catalog.Document, 0, count)
	for i := 1; i <= count; i++ {
		docs = append(docs, catalog.Document{
			ID:          fmt.Sprintf("%s-doc-%d", batchID, i),
			BatchID:     batchID,
			BatchIndex:  i,
			SourcePath:  fmt.Sprintf("/library/%s/file-%d.pdf", batchID, i),
			DisplayName: fmt.Sprintf("file-%d.pdf", i),
		})
	}
	batch, err := store.CreateBatch(context.Background(), batchID, docs)
	if err != nil {
		t.Fatalf("store.CreateBatch: %v", err)
	}
	return batch
}
