// Package services defines shared utilities consumed by the pipeline stage
// executors and collaborator integrations.
//
// Key responsibilities:
//   - Context helpers that stamp batch IDs, document IDs, stage names, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that tag failures for
//     retry classification (retryable stage failures vs terminal ones).
//
// Use these helpers when wiring new stage logic so operational behaviour
// (error handling, observability, retries) stays uniform across the pipeline.
package services
