package api

import (
	"testing"
	"time"

	"pulp/internal/batch"
	"pulp/internal/catalog"
	"pulp/internal/resource"
)

func TestFromBatchFormatsTimestamps(t *testing.T) {
	created := time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC)
	completed := created.Add(42 * time.Second)
	b := &catalog.Batch{
		ID:          "batch-1",
		Status:      catalog.BatchCompleted,
		Total:       3,
		Successful:  2,
		Failed:      1,
		CreatedAt:   created,
		UpdatedAt:   completed,
		CompletedAt: &completed,
	}

	dto := FromBatch(b)
	if dto.Status != "completed" {
		t.Fatalf("expected status completed, got %q", dto.Status)
	}
	if dto.CreatedAt != "2025-11-03T09:30:00.000Z" {
		t.Fatalf("unexpected createdAt: %q", dto.CreatedAt)
	}
	if dto.CompletedAt != "2025-11-03T09:30:42.000Z" {
		t.Fatalf("unexpected completedAt: %q", dto.CompletedAt)
	}
	if dto.Successful != 2 || dto.Failed != 1 || dto.Total != 3 {
		t.Fatalf("unexpected counters: %+v", dto)
	}
}

func TestFromBatchNilIsZero(t *testing.T) {
	if dto := FromBatch(nil); dto.ID != "" || dto.CreatedAt != "" {
		t.Fatalf("expected zero DTO for nil batch, got %+v", dto)
	}
}

func TestFromDocumentCarriesStageStatuses(t *testing.T) {
	doc := &catalog.Document{
		ID:          "doc-1",
		BatchID:     "batch-1",
		BatchIndex:  2,
		SourcePath:  "/library/report.pdf",
		DisplayName: "report.pdf",
		Status:      catalog.DocumentFailed,
		Progress:    0.5,
		StageStatuses: map[string]string{
			"parse": "completed",
			"chunk": "completed",
			"embed": "failed",
		},
		ErrorMessage: "embed: deadline exceeded",
		ChunkCount:   12,
		VectorCount:  0,
	}

	dto := FromDocument(doc)
	if dto.Status != "failed" {
		t.Fatalf("expected status failed, got %q", dto.Status)
	}
	if dto.StageStatuses["embed"] != "failed" {
		t.Fatalf("expected embed stage failed, got %q", dto.StageStatuses["embed"])
	}
	if dto.ErrorMessage == "" {
		t.Fatalf("expected error message to survive conversion")
	}
	if dto.ChunkCount != 12 {
		t.Fatalf("expected chunk count 12, got %d", dto.ChunkCount)
	}
}

func TestFromSnapshotsPreservesOrder(t *testing.T) {
	now := time.Now().UTC()
	snapshots := []batch.Snapshot{
		{BatchID: "first", Total: 2, CreatedAt: now},
		{BatchID: "second", Total: 4, CreatedAt: now.Add(time.Second)},
	}

	out := FromSnapshots(snapshots)
	if len(out) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(out))
	}
	if out[0].BatchID != "first" || out[1].BatchID != "second" {
		t.Fatalf("expected submission order preserved, got %+v", out)
	}
}

func TestFromMemorySnapshotSkipsUnprobed(t *testing.T) {
	if status := FromMemorySnapshot(resource.Snapshot{}); status != nil {
		t.Fatalf("expected nil for an unprobed snapshot, got %+v", status)
	}
	probed := resource.Snapshot{AvailableMB: 2048, TotalMB: 8192, CheckedAt: time.Now()}
	status := FromMemorySnapshot(probed)
	if status == nil || status.AvailableMB != 2048 {
		t.Fatalf("expected populated memory status, got %+v", status)
	}
}

func TestMergeCatalogStats(t *testing.T) {
	stats := MergeCatalogStats(map[catalog.DocumentStatus]int{
		catalog.DocumentCompleted: 7,
		catalog.DocumentFailed:    1,
	})
	if stats["completed"] != 7 || stats["failed"] != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}
