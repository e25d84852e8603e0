package catalog_test

import (
	"context"
	"testing"
	"time"

	"pulp/internal/catalog"
	"pulp/internal/testsupport"
)

func TestCreateBatchSeedsPendingDocuments(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	batch := testsupport.SeedBatch(t, store, "batch-1", 3)
	if batch.Status != catalog.BatchRunning {
		t.Fatalf("expected running batch, got %s", batch.Status)
	}
	if batch.Total != 3 || batch.Successful != 0 || batch.Failed != 0 {
		t.Fatalf("unexpected counters: %+v", batch)
	}
	if batch.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be stamped")
	}

	docs, err := store.ListDocuments(ctx, "batch-1")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("expected 3 documents, got %d", len(docs))
	}
	for i, doc := range docs {
		if doc.BatchIndex != i+1 {
			t.Fatalf("expected index order, doc %d has index %d", i, doc.BatchIndex)
		}
		if doc.Status != catalog.DocumentPending {
			t.Fatalf("expected pending document, got %s", doc.Status)
		}
		if doc.Progress != 0 {
			t.Fatalf("expected zero progress, got %f", doc.Progress)
		}
	}
}

func TestRecordOutcomeUpdatesCounters(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	testsupport.SeedBatch(t, store, "batch-1", 2)

	if err := store.MarkDocumentRunning(ctx, "batch-1-doc-1"); err != nil {
		t.Fatalf("MarkDocumentRunning: %v", err)
	}
	running, err := store.GetDocument(ctx, "batch-1-doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if running.Status != catalog.DocumentRunning {
		t.Fatalf("expected running document, got %s", running.Status)
	}

	running.Status = catalog.DocumentCompleted
	running.Progress = 1.0
	running.StageStatuses = map[string]string{"parse": "completed", "chunk": "completed"}
	running.ChunkCount = 4
	running.VectorCount = 4
	running.EntityCount = 2
	running.RelationCount = 1
	if err := store.RecordOutcome(ctx, running); err != nil {
		t.Fatalf("RecordOutcome completed: %v", err)
	}

	failedDoc, err := store.GetDocument(ctx, "batch-1-doc-2")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	failedDoc.Status = catalog.DocumentFailed
	failedDoc.Progress = 0.25
	failedDoc.ErrorMessage = "embed: request timed out"
	if err := store.RecordOutcome(ctx, failedDoc); err != nil {
		t.Fatalf("RecordOutcome failed: %v", err)
	}

	batch, err := store.GetBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch.Successful != 1 || batch.Failed != 1 {
		t.Fatalf("expected counters 1/1, got %d/%d", batch.Successful, batch.Failed)
	}
	if batch.Status != catalog.BatchRunning {
		t.Fatalf("expected batch still running, got %s", batch.Status)
	}

	reloaded, err := store.GetDocument(ctx, "batch-1-doc-1")
	if err != nil {
		t.Fatalf("GetDocument reload: %v", err)
	}
	if reloaded.StageStatuses["chunk"] != "completed" {
		t.Fatalf("expected stage statuses persisted, got %#v", reloaded.StageStatuses)
	}
	if reloaded.ChunkCount != 4 || reloaded.VectorCount != 4 || reloaded.EntityCount != 2 || reloaded.RelationCount != 1 {
		t.Fatalf("expected artifact counts persisted, got %+v", reloaded)
	}

	completed, err := store.CompleteBatch(ctx, "batch-1", 1, 1)
	if err != nil {
		t.Fatalf("CompleteBatch: %v", err)
	}
	if completed.Status != catalog.BatchCompleted {
		t.Fatalf("expected completed batch, got %s", completed.Status)
	}
	if completed.CompletedAt == nil {
		t.Fatal("expected completed_at to be stamped")
	}
}

func TestRecordOutcomeRejectsNonTerminalStatus(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	testsupport.SeedBatch(t, store, "batch-1", 1)

	doc, err := store.GetDocument(ctx, "batch-1-doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	doc.Status = catalog.DocumentRunning
	if err := store.RecordOutcome(ctx, doc); err == nil {
		t.Fatal("expected error for non-terminal status")
	}
}

func TestUpdateDocumentMirrorsSnapshotWithoutCounting(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	testsupport.SeedBatch(t, store, "batch-1", 1)

	doc, err := store.GetDocument(ctx, "batch-1-doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	doc.Status = catalog.DocumentRunning
	doc.Progress = 0.5
	doc.StageStatuses = map[string]string{"parse": "completed", "chunk": "running"}
	doc.ErrorMessage = "parse: request timed out"
	if err := store.UpdateDocument(ctx, doc); err != nil {
		t.Fatalf("UpdateDocument: %v", err)
	}

	reloaded, err := store.GetDocument(ctx, "batch-1-doc-1")
	if err != nil {
		t.Fatalf("GetDocument reload: %v", err)
	}
	if reloaded.Status != catalog.DocumentRunning {
		t.Fatalf("expected running document, got %s", reloaded.Status)
	}
	if reloaded.Progress != 0.5 {
		t.Fatalf("expected progress 0.5, got %f", reloaded.Progress)
	}
	if reloaded.StageStatuses["chunk"] != "running" {
		t.Fatalf("expected stage statuses persisted, got %#v", reloaded.StageStatuses)
	}
	if reloaded.ErrorMessage != "parse: request timed out" {
		t.Fatalf("expected error message persisted, got %q", reloaded.ErrorMessage)
	}

	reloaded.Status = catalog.DocumentCompleted
	reloaded.Progress = 1.0
	if err := store.UpdateDocument(ctx, reloaded); err != nil {
		t.Fatalf("UpdateDocument terminal: %v", err)
	}

	batch, err := store.GetBatch(ctx, "batch-1")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch.Successful != 0 || batch.Failed != 0 {
		t.Fatalf("snapshot mirror must not move batch counters, got %d/%d", batch.Successful, batch.Failed)
	}
}

func TestGetBatchMissingReturnsNil(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	batch, err := store.GetBatch(ctx, "nope")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batch != nil {
		t.Fatalf("expected nil batch, got %+v", batch)
	}

	doc, err := store.GetDocument(ctx, "nope")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc != nil {
		t.Fatalf("expected nil document, got %+v", doc)
	}
}

func TestFailInterruptedSweepsInFlightRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	testsupport.SeedBatch(t, store, "batch-a", 3)

	done, err := store.GetDocument(ctx, "batch-a-doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	done.Status = catalog.DocumentCompleted
	done.Progress = 1.0
	if err := store.RecordOutcome(ctx, done); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if err := store.MarkDocumentRunning(ctx, "batch-a-doc-2"); err != nil {
		t.Fatalf("MarkDocumentRunning: %v", err)
	}

	testsupport.SeedBatch(t, store, "batch-b", 1)
	finished, err := store.GetDocument(ctx, "batch-b-doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	finished.Status = catalog.DocumentCompleted
	finished.Progress = 1.0
	if err := store.RecordOutcome(ctx, finished); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}
	if _, err := store.CompleteBatch(ctx, "batch-b", 1, 0); err != nil {
		t.Fatalf("CompleteBatch: %v", err)
	}

	swept, err := store.FailInterrupted(ctx)
	if err != nil {
		t.Fatalf("FailInterrupted: %v", err)
	}
	if swept != 2 {
		t.Fatalf("expected 2 documents swept, got %d", swept)
	}

	for _, id := range []string{"batch-a-doc-2", "batch-a-doc-3"} {
		doc, err := store.GetDocument(ctx, id)
		if err != nil {
			t.Fatalf("GetDocument %s: %v", id, err)
		}
		if doc.Status != catalog.DocumentFailed {
			t.Fatalf("%s: expected failed, got %s", id, doc.Status)
		}
		if doc.ErrorMessage != catalog.InterruptedReason {
			t.Fatalf("%s: expected interrupted reason, got %q", id, doc.ErrorMessage)
		}
	}

	untouched, err := store.GetDocument(ctx, "batch-a-doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if untouched.Status != catalog.DocumentCompleted {
		t.Fatalf("expected completed document untouched, got %s", untouched.Status)
	}

	batchA, err := store.GetBatch(ctx, "batch-a")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batchA.Status != catalog.BatchInterrupted {
		t.Fatalf("expected interrupted batch, got %s", batchA.Status)
	}
	if batchA.Successful != 1 || batchA.Failed != 2 {
		t.Fatalf("expected counters 1/2 after sweep, got %d/%d", batchA.Successful, batchA.Failed)
	}

	batchB, err := store.GetBatch(ctx, "batch-b")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if batchB.Status != catalog.BatchCompleted {
		t.Fatalf("expected completed batch untouched, got %s", batchB.Status)
	}
}

func TestListBatchesNewestFirstWithLimit(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	testsupport.SeedBatch(t, store, "batch-old", 1)
	time.Sleep(5 * time.Millisecond)
	testsupport.SeedBatch(t, store, "batch-new", 1)

	batches, err := store.ListBatches(ctx, 0)
	if err != nil {
		t.Fatalf("ListBatches: %v", err)
	}
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].ID != "batch-new" || batches[1].ID != "batch-old" {
		t.Fatalf("expected newest first, got %s then %s", batches[0].ID, batches[1].ID)
	}

	limited, err := store.ListBatches(ctx, 1)
	if err != nil {
		t.Fatalf("ListBatches limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "batch-new" {
		t.Fatalf("expected only newest batch, got %+v", limited)
	}
}

func TestClearCompletedKeepsRunningBatches(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	testsupport.SeedBatch(t, store, "batch-done", 2)
	if _, err := store.CompleteBatch(ctx, "batch-done", 2, 0); err != nil {
		t.Fatalf("CompleteBatch: %v", err)
	}
	testsupport.SeedBatch(t, store, "batch-live", 1)

	removed, err := store.ClearCompleted(ctx)
	if err != nil {
		t.Fatalf("ClearCompleted: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 batch removed, got %d", removed)
	}

	gone, err := store.GetBatch(ctx, "batch-done")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if gone != nil {
		t.Fatalf("expected completed batch removed, got %+v", gone)
	}

	orphans, err := store.ListDocuments(ctx, "batch-done")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected documents cascaded away, got %d", len(orphans))
	}

	live, err := store.GetBatch(ctx, "batch-live")
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if live == nil || live.Status != catalog.BatchRunning {
		t.Fatalf("expected running batch kept, got %+v", live)
	}
}

func TestHealthAggregatesStatuses(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	testsupport.SeedBatch(t, store, "batch-1", 3)

	completed, err := store.GetDocument(ctx, "batch-1-doc-1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	completed.Status = catalog.DocumentCompleted
	completed.Progress = 1.0
	if err := store.RecordOutcome(ctx, completed); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	aborted, err := store.GetDocument(ctx, "batch-1-doc-2")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	aborted.Status = catalog.DocumentAborted
	aborted.ErrorMessage = "256 MB available, 512 MB required"
	if err := store.RecordOutcome(ctx, aborted); err != nil {
		t.Fatalf("RecordOutcome: %v", err)
	}

	health, err := store.Health(ctx)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if health.Batches != 1 || health.Documents != 3 {
		t.Fatalf("unexpected totals: %+v", health)
	}
	if health.Pending != 1 || health.Completed != 1 || health.Failed != 1 {
		t.Fatalf("unexpected status rollup: %+v", health)
	}
}

func TestCheckHealthReportsDiagnostics(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenCatalog(t, cfg)

	ctx := context.Background()
	testsupport.SeedBatch(t, store, "batch-1", 2)

	health, err := store.CheckHealth(ctx)
	if err != nil {
		t.Fatalf("CheckHealth: %v", err)
	}
	if !health.DatabaseExists || !health.DatabaseReadable {
		t.Fatalf("expected readable database, got %+v", health)
	}
	if !health.TablesPresent {
		t.Fatal("expected batches and documents tables present")
	}
	if !health.IntegrityCheck {
		t.Fatal("expected integrity check to pass")
	}
	if health.TotalBatches != 1 || health.TotalDocuments != 2 {
		t.Fatalf("unexpected totals: %+v", health)
	}
}

func TestParseDocumentStatus(t *testing.T) {
	status, ok := catalog.ParseDocumentStatus(" Completed ")
	if !ok {
		t.Fatal("expected completed to parse")
	}
	if status != catalog.DocumentCompleted {
		t.Fatalf("expected completed, got %s", status)
	}
	if _, ok := catalog.ParseDocumentStatus("bogus"); ok {
		t.Fatal("expected unknown status to be rejected")
	}
}
