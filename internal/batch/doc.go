// Package batch admits groups of documents into the pipeline and drives
// them to completion on a bounded worker pool. The coordinator owns batch
// lifecycle: it publishes exactly one batch_start and one batch_complete
// per batch, tallies per-document outcomes, and mirrors them into the
// catalog for history output.
package batch
