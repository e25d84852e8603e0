package events

import "time"

// Type identifies the progress event variant carried by an Event.
type Type string

const (
	TypeBatchStart       Type = "batch_start"
	TypeDocumentProgress Type = "document_progress"
	TypeBatchComplete    Type = "batch_complete"
)

// Event is a single progress notification. Exactly one payload pointer is
// set, matching Type. Sequence and Timestamp are assigned by the bus when
// the event is published.
type Event struct {
	Sequence  uint64    `json:"seq"`
	Timestamp time.Time `json:"ts"`
	Type      Type      `json:"type"`

	BatchStart       *BatchStart       `json:"batch_start,omitempty"`
	DocumentProgress *DocumentProgress `json:"document_progress,omitempty"`
	BatchComplete    *BatchComplete    `json:"batch_complete,omitempty"`
}

// BatchStart announces that a batch has been admitted and names the number
// of documents it contains.
type BatchStart struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
}

// DocumentProgress reports the state of one document after a stage attempt
// or a phase transition.
type DocumentProgress struct {
	BatchID       string            `json:"batch_id"`
	DocumentID    string            `json:"document_id"`
	BatchIndex    int               `json:"batch_index"`
	Phase         string            `json:"phase"`
	StageStatuses map[string]string `json:"stage_statuses,omitempty"`
	Progress      float64           `json:"progress"`
	Errors        []StageError      `json:"errors,omitempty"`
}

// BatchComplete closes a batch with its final tallies. Successful plus
// Failed always equals Total.
type BatchComplete struct {
	BatchID    string `json:"batch_id"`
	Successful int    `json:"successful"`
	Failed     int    `json:"failed"`
	Total      int    `json:"total"`
}

// StageError records one failed stage attempt on a document.
type StageError struct {
	Stage      string    `json:"stage"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewBatchStart builds an unstamped batch_start event.
func NewBatchStart(batchID string, total int) Event {
	return Event{
		Type:       TypeBatchStart,
		BatchStart: &BatchStart{BatchID: batchID, Total: total},
	}
}

// NewDocumentProgress builds an unstamped document_progress event.
func NewDocumentProgress(progress DocumentProgress) Event {
	return Event{
		Type:             TypeDocumentProgress,
		DocumentProgress: &progress,
	}
}

// NewBatchComplete builds an unstamped batch_complete event.
func NewBatchComplete(batchID string, successful, failed, total int) Event {
	return Event{
		Type: TypeBatchComplete,
		BatchComplete: &BatchComplete{
			BatchID:    batchID,
			Successful: successful,
			Failed:     failed,
			Total:      total,
		},
	}
}
