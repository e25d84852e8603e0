package main

import (
	"fmt"
	"sort"
	"strings"

	"pulp/internal/events"
	"pulp/internal/logging"
)

// eventFilter thins the document_progress stream for terminal output. A
// per-document sampler keeps stage changes and progress-bucket crossings;
// new errors and terminal phases always pass. Batch events are never
// filtered.
type eventFilter struct {
	samplers map[string]*logging.ProgressSampler
	errors   map[string]int
}

func newEventFilter() *eventFilter {
	return &eventFilter{
		samplers: make(map[string]*logging.ProgressSampler),
		errors:   make(map[string]int),
	}
}

func (f *eventFilter) keep(evt events.Event) bool {
	p := evt.DocumentProgress
	if p == nil {
		return true
	}
	keep := false
	if len(p.Errors) > f.errors[p.DocumentID] {
		f.errors[p.DocumentID] = len(p.Errors)
		keep = true
	}
	sampler, ok := f.samplers[p.DocumentID]
	if !ok {
		sampler = logging.NewProgressSampler(0)
		f.samplers[p.DocumentID] = sampler
	}
	stage := activeStage(p.StageStatuses)
	if stage == "" {
		stage = p.Phase
	}
	if sampler.ShouldLog(p.Progress, stage) {
		keep = true
	}
	return keep
}

// formatEvent renders one progress event as a single log-style line for the
// watch and ingest --watch commands.
func formatEvent(evt events.Event) string {
	ts := evt.Timestamp.Local().Format("15:04:05")
	switch evt.Type {
	case events.TypeBatchStart:
		if b := evt.BatchStart; b != nil {
			return fmt.Sprintf("%s batch %s started (%d document(s))", ts, b.BatchID, b.Total)
		}
	case events.TypeDocumentProgress:
		if p := evt.DocumentProgress; p != nil {
			line := fmt.Sprintf("%s [%s #%d] %s %3.0f%%", ts, p.BatchID, p.BatchIndex, p.Phase, p.Progress*100)
			if stage := activeStage(p.StageStatuses); stage != "" {
				line += " (" + stage + ")"
			}
			if n := len(p.Errors); n > 0 {
				last := p.Errors[n-1]
				line += fmt.Sprintf(" error[%s]: %s", last.Stage, last.Message)
			}
			return line
		}
	case events.TypeBatchComplete:
		if b := evt.BatchComplete; b != nil {
			return fmt.Sprintf("%s batch %s complete: %d succeeded, %d failed of %d", ts, b.BatchID, b.Successful, b.Failed, b.Total)
		}
	}
	return fmt.Sprintf("%s %s", ts, evt.Type)
}

// activeStage picks the running stage from a status map, if any.
func activeStage(statuses map[string]string) string {
	names := make([]string, 0, len(statuses))
	for name, status := range statuses {
		if status == "running" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}

// eventBatchID extracts the batch the event belongs to.
func eventBatchID(evt events.Event) string {
	switch {
	case evt.BatchStart != nil:
		return evt.BatchStart.BatchID
	case evt.DocumentProgress != nil:
		return evt.DocumentProgress.BatchID
	case evt.BatchComplete != nil:
		return evt.BatchComplete.BatchID
	default:
		return ""
	}
}
