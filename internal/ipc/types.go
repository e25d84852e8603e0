package ipc

import (
	"pulp/internal/api"
	"pulp/internal/events"
)

// DaemonStatus mirrors the HTTP API status DTO for IPC callers.
type DaemonStatus = api.DaemonStatus

// Batch mirrors the HTTP API batch DTO for IPC callers.
type Batch = api.Batch

// Document mirrors the HTTP API document DTO for IPC callers.
type Document = api.Document

// Receipt mirrors the HTTP API receipt DTO for IPC callers.
type Receipt = api.Receipt

// Event mirrors the bus event payload for IPC callers.
type Event = events.Event

// PingRequest checks daemon liveness.
type PingRequest struct{}

// PingResponse identifies the responding daemon.
type PingResponse struct {
	Version string `json:"version"`
	PID     int    `json:"pid"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse carries the aggregated daemon status.
type StatusResponse struct {
	Status DaemonStatus `json:"status"`
}

// IngestRequest submits local paths for processing.
type IngestRequest struct {
	Paths        []string          `json:"paths"`
	DisplayNames map[string]string `json:"display_names,omitempty"`
}

// IngestResponse acknowledges an admitted batch.
type IngestResponse struct {
	Receipt Receipt `json:"receipt"`
}

// CancelRequest cancels one in-flight batch.
type CancelRequest struct {
	BatchID string `json:"batch_id"`
}

// CancelResponse reports cancel acceptance.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// EventsRequest fetches progress events at or after a cursor. WaitMillis > 0
// blocks until new events arrive or the wait elapses.
type EventsRequest struct {
	Since      uint64 `json:"since"`
	Limit      int    `json:"limit"`
	WaitMillis int    `json:"wait_millis"`
}

// EventsResponse is one cursor page of progress events.
type EventsResponse struct {
	Events     []Event `json:"events"`
	NextCursor uint64  `json:"next_cursor"`
	Dropped    uint64  `json:"dropped"`
}

// BatchListRequest lists recorded batches, newest first.
type BatchListRequest struct {
	Limit int `json:"limit"`
}

// BatchListResponse contains recorded batches.
type BatchListResponse struct {
	Batches []Batch `json:"batches"`
}

// BatchShowRequest fetches a single batch with its documents.
type BatchShowRequest struct {
	ID string `json:"id"`
}

// BatchShowResponse contains one batch and its document rows.
type BatchShowResponse struct {
	Batch     Batch      `json:"batch"`
	Documents []Document `json:"documents"`
}

// ClearCompletedRequest removes finished batches from the catalog.
type ClearCompletedRequest struct{}

// ClearCompletedResponse reports number of removed batches.
type ClearCompletedResponse struct {
	Removed int64 `json:"removed"`
}

// TestNotifyRequest triggers a notification test.
type TestNotifyRequest struct{}

// TestNotifyResponse reports notification test outcome.
type TestNotifyResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

// LogTailRequest fetches daemon log lines based on offset and follow
// semantics.
type LogTailRequest struct {
	Offset     int64 `json:"offset"`
	Limit      int   `json:"limit"`
	Follow     bool  `json:"follow"`
	WaitMillis int   `json:"wait_millis"`
}

// LogTailResponse returns log lines and the next offset.
type LogTailResponse struct {
	Lines  []string `json:"lines"`
	Offset int64    `json:"offset"`
}

// ShutdownRequest asks the daemon process to exit.
type ShutdownRequest struct{}

// ShutdownResponse acknowledges a shutdown request.
type ShutdownResponse struct {
	Stopping bool `json:"stopping"`
}
