package api

import "pulp/internal/events"

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Batch describes one recorded batch in a transport-friendly format.
type Batch struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Total       int    `json:"total"`
	Successful  int    `json:"successful"`
	Failed      int    `json:"failed"`
	CreatedAt   string `json:"createdAt,omitempty"`
	UpdatedAt   string `json:"updatedAt,omitempty"`
	CompletedAt string `json:"completedAt,omitempty"`
}

// Document describes one document row inside a batch.
type Document struct {
	ID            string            `json:"id"`
	BatchID       string            `json:"batchId"`
	BatchIndex    int               `json:"batchIndex"`
	SourcePath    string            `json:"sourcePath"`
	DisplayName   string            `json:"displayName,omitempty"`
	Status        string            `json:"status"`
	Progress      float64           `json:"progress"`
	StageStatuses map[string]string `json:"stageStatuses,omitempty"`
	ErrorMessage  string            `json:"errorMessage,omitempty"`
	ChunkCount    int               `json:"chunkCount"`
	VectorCount   int               `json:"vectorCount"`
	EntityCount   int               `json:"entityCount"`
	RelationCount int               `json:"relationCount"`
	CreatedAt     string            `json:"createdAt,omitempty"`
	UpdatedAt     string            `json:"updatedAt,omitempty"`
}

// BatchDetail pairs a batch with its documents.
type BatchDetail struct {
	Batch     Batch      `json:"batch"`
	Documents []Document `json:"documents"`
}

// Receipt acknowledges an admitted batch.
type Receipt struct {
	BatchID   string `json:"batchId"`
	Total     int    `json:"total"`
	CreatedAt string `json:"createdAt,omitempty"`
}

// BatchProgress is a live view of one in-flight batch.
type BatchProgress struct {
	BatchID    string `json:"batchId"`
	Total      int    `json:"total"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// PipelineStatus summarizes the processing side of the daemon.
type PipelineStatus struct {
	Running       bool            `json:"running"`
	Concurrency   int             `json:"concurrency"`
	ActiveBatches []BatchProgress `json:"activeBatches"`
	CatalogStats  map[string]int  `json:"catalogStats,omitempty"`
}

// BackendStatus mirrors one managed backend's lifecycle entry.
type BackendStatus struct {
	Name      string `json:"name"`
	Phase     string `json:"phase"`
	Refs      int    `json:"refs"`
	Starts    int    `json:"starts"`
	Since     string `json:"since,omitempty"`
	LastError string `json:"lastError,omitempty"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Target      string `json:"target,omitempty"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// MemoryStatus reports the most recent host memory probe.
type MemoryStatus struct {
	AvailableMB int64  `json:"availableMb"`
	TotalMB     int64  `json:"totalMb"`
	CheckedAt   string `json:"checkedAt,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool               `json:"running"`
	PID          int                `json:"pid"`
	Version      string             `json:"version,omitempty"`
	StartedAt    string             `json:"startedAt,omitempty"`
	CatalogPath  string             `json:"catalogPath,omitempty"`
	LockFilePath string             `json:"lockFilePath,omitempty"`
	Pipeline     PipelineStatus     `json:"pipeline"`
	Backends     []BackendStatus    `json:"backends,omitempty"`
	Dependencies []DependencyStatus `json:"dependencies,omitempty"`
	Memory       *MemoryStatus      `json:"memory,omitempty"`
}

// EventPage is one cursor page of progress events. NextCursor feeds the
// following Fetch; Dropped counts ring overwrites observed by the bus.
type EventPage struct {
	Events     []events.Event `json:"events"`
	NextCursor uint64         `json:"nextCursor"`
	Dropped    uint64         `json:"dropped,omitempty"`
}

// BatchListResponse wraps a collection of batches for API responses.
type BatchListResponse struct {
	Batches []Batch `json:"batches"`
}
