package pipeline

import (
	"time"

	"pulp/internal/chunking"
	"pulp/internal/events"
	"pulp/internal/parse"
	"pulp/internal/resource"
)

// Stage identifies one discrete processing step applied to a document.
type Stage string

const (
	StageParse        Stage = "parse"
	StageChunk        Stage = "chunk"
	StageEmbed        Stage = "embed"
	StageExtractGraph Stage = "extract_graph"

	// StageMemoryCheck labels pre-flight gate failures in error records. It
	// is not an executable stage and never appears in Stages().
	StageMemoryCheck Stage = "memory_check"
)

var orderedStages = []Stage{StageParse, StageChunk, StageEmbed, StageExtractGraph}

// Stages returns the executable stages in processing order.
func Stages() []Stage {
	cp := make([]Stage, len(orderedStages))
	copy(cp, orderedStages)
	return cp
}

// StageStatus tracks one stage's position in its lifecycle.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
)

// Document identifies one unit of work inside a batch.
type Document struct {
	ID          string
	BatchID     string
	BatchIndex  int
	SourcePath  string
	DisplayName string
}

// StageError records one failed stage attempt.
type StageError struct {
	Stage      Stage
	Message    string
	OccurredAt time.Time
}

// State carries everything the pipeline learns about one document. It is
// owned by the runner driving the document: mutated only between and during
// that runner's own stage attempts, never shared across documents.
type State struct {
	Phase         Phase
	Content       string
	Metadata      parse.Metadata
	Chunks        []chunking.Chunk
	VectorIDs     []string
	EntityIDs     []string
	RelationIDs   []string
	StageStatuses map[Stage]StageStatus
	Progress      float64
	Memory        resource.Snapshot
	Errors        []StageError
	RetryCount    int
	MaxRetries    int
	StartedAt     time.Time
	FinishedAt    time.Time
}

// NewState returns a fresh state positioned at the memory gate with every
// stage pending.
func NewState(maxRetries int) *State {
	statuses := make(map[Stage]StageStatus, len(orderedStages))
	for _, stage := range orderedStages {
		statuses[stage] = StatusPending
	}
	return &State{
		Phase:         PhaseMemoryCheck,
		StageStatuses: statuses,
		MaxRetries:    maxRetries,
		StartedAt:     time.Now().UTC(),
	}
}

// RecordError appends a failed attempt for the given stage.
func (s *State) RecordError(stage Stage, err error) {
	if err == nil {
		return
	}
	s.Errors = append(s.Errors, StageError{
		Stage:      stage,
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	})
}

// Terminal reports whether the document has finished processing.
func (s *State) Terminal() bool {
	return TerminalPhase(s.Phase)
}

// Succeeded reports whether the document made it through every stage.
func (s *State) Succeeded() bool {
	return s.Phase == PhaseDone
}

// Outcome returns the terminal result label used for metrics and history
// rows. It is empty while the document is still in flight.
func (s *State) Outcome() string {
	switch s.Phase {
	case PhaseDone:
		return "completed"
	case PhaseAborted:
		return "aborted"
	case PhaseFailed:
		return "failed"
	case PhaseCancelled:
		return "cancelled"
	default:
		return ""
	}
}

// LastError returns the most recent error message, or empty when the
// document has none.
func (s *State) LastError() string {
	if len(s.Errors) == 0 {
		return ""
	}
	return s.Errors[len(s.Errors)-1].Message
}

// ProgressPayload renders the state as a progress event payload.
func (s *State) ProgressPayload(doc Document) events.DocumentProgress {
	statuses := make(map[string]string, len(s.StageStatuses))
	for stage, status := range s.StageStatuses {
		statuses[string(stage)] = string(status)
	}
	var errs []events.StageError
	if len(s.Errors) > 0 {
		errs = make([]events.StageError, 0, len(s.Errors))
		for _, stageErr := range s.Errors {
			errs = append(errs, events.StageError{
				Stage:      string(stageErr.Stage),
				Message:    stageErr.Message,
				OccurredAt: stageErr.OccurredAt,
			})
		}
	}
	return events.DocumentProgress{
		BatchID:       doc.BatchID,
		DocumentID:    doc.ID,
		BatchIndex:    doc.BatchIndex,
		Phase:         string(s.Phase),
		StageStatuses: statuses,
		Progress:      s.Progress,
		Errors:        errs,
	}
}
