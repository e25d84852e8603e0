package api

import (
	"time"

	"pulp/internal/batch"
	"pulp/internal/catalog"
	"pulp/internal/deps"
	"pulp/internal/lifecycle"
	"pulp/internal/resource"
)

// FromBatch converts a catalog batch to its API representation.
func FromBatch(b *catalog.Batch) Batch {
	if b == nil {
		return Batch{}
	}
	dto := Batch{
		ID:         b.ID,
		Status:     string(b.Status),
		Total:      b.Total,
		Successful: b.Successful,
		Failed:     b.Failed,
		CreatedAt:  FormatTime(b.CreatedAt),
		UpdatedAt:  FormatTime(b.UpdatedAt),
	}
	if b.CompletedAt != nil {
		dto.CompletedAt = FormatTime(*b.CompletedAt)
	}
	return dto
}

// FromBatches converts a slice of catalog batches into API DTOs.
func FromBatches(batches []*catalog.Batch) []Batch {
	if len(batches) == 0 {
		return nil
	}
	out := make([]Batch, 0, len(batches))
	for _, b := range batches {
		out = append(out, FromBatch(b))
	}
	return out
}

// FromDocument converts a catalog document to its API representation.
func FromDocument(d *catalog.Document) Document {
	if d == nil {
		return Document{}
	}
	return Document{
		ID:            d.ID,
		BatchID:       d.BatchID,
		BatchIndex:    d.BatchIndex,
		SourcePath:    d.SourcePath,
		DisplayName:   d.DisplayName,
		Status:        string(d.Status),
		Progress:      d.Progress,
		StageStatuses: d.StageStatuses,
		ErrorMessage:  d.ErrorMessage,
		ChunkCount:    d.ChunkCount,
		VectorCount:   d.VectorCount,
		EntityCount:   d.EntityCount,
		RelationCount: d.RelationCount,
		CreatedAt:     FormatTime(d.CreatedAt),
		UpdatedAt:     FormatTime(d.UpdatedAt),
	}
}

// FromDocuments converts a slice of catalog documents into API DTOs.
func FromDocuments(docs []*catalog.Document) []Document {
	if len(docs) == 0 {
		return nil
	}
	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		out = append(out, FromDocument(d))
	}
	return out
}

// FromReceipt converts a batch admission receipt.
func FromReceipt(r *batch.Receipt) Receipt {
	if r == nil {
		return Receipt{}
	}
	return Receipt{
		BatchID:   r.BatchID,
		Total:     r.Total,
		CreatedAt: FormatTime(r.CreatedAt),
	}
}

// FromSnapshot converts one in-flight batch snapshot.
func FromSnapshot(s batch.Snapshot) BatchProgress {
	return BatchProgress{
		BatchID:    s.BatchID,
		Total:      s.Total,
		Successful: s.Successful,
		Failed:     s.Failed,
		CreatedAt:  FormatTime(s.CreatedAt),
	}
}

// FromSnapshots converts in-flight batch snapshots, preserving order.
func FromSnapshots(snapshots []batch.Snapshot) []BatchProgress {
	out := make([]BatchProgress, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, FromSnapshot(s))
	}
	return out
}

// FromBackendStatus converts one lifecycle entry.
func FromBackendStatus(s lifecycle.Status) BackendStatus {
	return BackendStatus{
		Name:      s.Name,
		Phase:     s.Phase,
		Refs:      s.Refs,
		Starts:    s.Starts,
		Since:     FormatTime(s.Since),
		LastError: s.LastError,
	}
}

// FromBackendStatuses converts lifecycle entries, preserving order.
func FromBackendStatuses(statuses []lifecycle.Status) []BackendStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]BackendStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, FromBackendStatus(s))
	}
	return out
}

// FromDependencyStatus converts one dependency check result.
func FromDependencyStatus(s deps.Status) DependencyStatus {
	return DependencyStatus{
		Name:        s.Name,
		Target:      s.Target,
		Description: s.Description,
		Optional:    s.Optional,
		Available:   s.Available,
		Detail:      s.Detail,
	}
}

// FromDependencyStatuses converts dependency check results, preserving order.
func FromDependencyStatuses(statuses []deps.Status) []DependencyStatus {
	if len(statuses) == 0 {
		return nil
	}
	out := make([]DependencyStatus, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, FromDependencyStatus(s))
	}
	return out
}

// FromMemorySnapshot converts a memory probe result.
func FromMemorySnapshot(s resource.Snapshot) *MemoryStatus {
	if s.CheckedAt.IsZero() {
		return nil
	}
	return &MemoryStatus{
		AvailableMB: s.AvailableMB,
		TotalMB:     s.TotalMB,
		CheckedAt:   FormatTime(s.CheckedAt),
	}
}

// MergeCatalogStats produces a string-keyed representation of catalog stats.
func MergeCatalogStats(stats map[catalog.DocumentStatus]int) map[string]int {
	if len(stats) == 0 {
		return nil
	}
	out := make(map[string]int, len(stats))
	for status, count := range stats {
		out[string(status)] = count
	}
	return out
}

// FormatTime converts a time to RFC3339 or returns empty string.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
