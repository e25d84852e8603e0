// Package api defines wire-format types and converters for the IPC and HTTP
// API layer. It translates internal catalog and pipeline models into
// transport-friendly DTOs so consumers never couple to internal types.
//
// # Key Types
//
// Batch/Document: transport representations of catalog history rows with
// per-stage statuses and artefact counts.
//
// DaemonStatus: daemon running state, in-flight batches, backend lifecycle,
// dependency checks, and memory headroom.
//
// EventPage: a cursor page of progress events for polling consumers.
//
// # Design Notes
//
// DTOs use camelCase JSON tags for JavaScript/TypeScript consumers. Internal
// enums (catalog statuses, lifecycle phases) are exposed as lowercase
// strings. Timestamps use RFC3339 with milliseconds. Progress events keep
// their bus encoding and pass through untranslated so cursor consumers and
// SSE subscribers see identical payloads.
package api
