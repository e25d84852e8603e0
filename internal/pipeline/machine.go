package pipeline

import (
	"fmt"
	"time"

	"pulp/internal/services"
)

// Phase names the position of a document inside the stage machine.
type Phase string

const (
	PhaseMemoryCheck  Phase = "memory_check"
	PhaseParse        Phase = "parse"
	PhaseChunk        Phase = "chunk"
	PhaseEmbed        Phase = "embed"
	PhaseExtractGraph Phase = "extract_graph"
	PhaseDone         Phase = "done"
	PhaseAborted      Phase = "aborted"
	PhaseFailed       Phase = "failed"
	PhaseCancelled    Phase = "cancelled"
)

// phaseTransitions is the closed edge set of the machine. The memory gate is
// the only place a document can abort; every executing phase may fail or be
// cancelled, otherwise it moves to its successor.
var phaseTransitions = map[Phase][]Phase{
	PhaseMemoryCheck:  {PhaseParse, PhaseAborted, PhaseCancelled},
	PhaseParse:        {PhaseChunk, PhaseFailed, PhaseCancelled},
	PhaseChunk:        {PhaseEmbed, PhaseFailed, PhaseCancelled},
	PhaseEmbed:        {PhaseExtractGraph, PhaseFailed, PhaseCancelled},
	PhaseExtractGraph: {PhaseDone, PhaseFailed, PhaseCancelled},
}

// TerminalPhase reports whether a phase has no outgoing edges.
func TerminalPhase(phase Phase) bool {
	switch phase {
	case PhaseDone, PhaseAborted, PhaseFailed, PhaseCancelled:
		return true
	default:
		return false
	}
}

// PhaseForStage returns the machine phase during which the stage executes.
func PhaseForStage(stage Stage) Phase {
	switch stage {
	case StageParse:
		return PhaseParse
	case StageChunk:
		return PhaseChunk
	case StageEmbed:
		return PhaseEmbed
	case StageExtractGraph:
		return PhaseExtractGraph
	default:
		return PhaseMemoryCheck
	}
}

// successorPhase returns the phase a stage advances to when it completes.
func successorPhase(stage Stage) Phase {
	switch stage {
	case StageParse:
		return PhaseChunk
	case StageChunk:
		return PhaseEmbed
	case StageEmbed:
		return PhaseExtractGraph
	case StageExtractGraph:
		return PhaseDone
	default:
		return PhaseAborted
	}
}

// CanAdvance reports whether the edge from one phase to another exists.
func CanAdvance(from, to Phase) bool {
	for _, candidate := range phaseTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// Advance moves the state to the next phase, rejecting edges outside the
// transition table. Reaching a terminal phase stamps FinishedAt.
func (s *State) Advance(next Phase) error {
	if !CanAdvance(s.Phase, next) {
		return services.Wrap(services.ErrValidation, "", "phase transition",
			fmt.Sprintf("illegal transition %s -> %s", s.Phase, next), nil)
	}
	s.Phase = next
	if TerminalPhase(next) {
		s.FinishedAt = time.Now().UTC()
	}
	return nil
}
