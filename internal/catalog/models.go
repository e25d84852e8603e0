package catalog

import (
	"strings"
	"time"
)

// BatchStatus represents the lifecycle of a recorded batch.
type BatchStatus string

const (
	BatchRunning     BatchStatus = "running"
	BatchCompleted   BatchStatus = "completed"
	BatchInterrupted BatchStatus = "interrupted"
)

// DocumentStatus represents the recorded outcome of one document.
type DocumentStatus string

const (
	DocumentPending   DocumentStatus = "pending"
	DocumentRunning   DocumentStatus = "running"
	DocumentCompleted DocumentStatus = "completed"
	DocumentFailed    DocumentStatus = "failed"
	DocumentAborted   DocumentStatus = "aborted"
	DocumentCancelled DocumentStatus = "cancelled"
)

// InterruptedReason is the error message set on in-flight documents when the
// daemon stops without finishing their batch.
const InterruptedReason = "daemon stopped before the document finished"

var allDocumentStatuses = []DocumentStatus{
	DocumentPending,
	DocumentRunning,
	DocumentCompleted,
	DocumentFailed,
	DocumentAborted,
	DocumentCancelled,
}

var documentStatusSet = func() map[DocumentStatus]struct{} {
	set := make(map[DocumentStatus]struct{}, len(allDocumentStatuses))
	for _, status := range allDocumentStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// ParseDocumentStatus converts a string into a known DocumentStatus.
func ParseDocumentStatus(value string) (DocumentStatus, bool) {
	normalized := DocumentStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := documentStatusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a document status will not change again.
func (s DocumentStatus) IsTerminal() bool {
	switch s {
	case DocumentCompleted, DocumentFailed, DocumentAborted, DocumentCancelled:
		return true
	default:
		return false
	}
}

// Batch is one submitted batch persisted for history and status output.
type Batch struct {
	ID          string
	Status      BatchStatus
	Total       int
	Successful  int
	Failed      int
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// Document is one document row inside a batch.
type Document struct {
	ID            string
	BatchID       string
	BatchIndex    int
	SourcePath    string
	DisplayName   string
	Status        DocumentStatus
	Progress      float64
	StageStatuses map[string]string
	ErrorMessage  string
	ChunkCount    int
	VectorCount   int
	EntityCount   int
	RelationCount int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// HealthSummary aggregates catalog counts for diagnostic output.
type HealthSummary struct {
	Batches   int
	Documents int
	Pending   int
	Running   int
	Completed int
	Failed    int
}

// DatabaseHealth captures diagnostic information about the catalog database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TablesPresent    bool
	IntegrityCheck   bool
	TotalBatches     int
	TotalDocuments   int
	Error            string
}
