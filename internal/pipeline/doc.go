// Package pipeline contains the per-document processing engine: the stage
// machine, the four stage executors, and the runner that drives one document
// from the memory gate to a terminal phase with retry, backoff, and
// between-stage cancellation handling.
package pipeline
