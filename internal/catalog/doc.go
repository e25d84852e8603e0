// Package catalog persists batch history in SQLite.
//
// The Store manages database connections, schema initialization, and the
// batch and document rows that record what each ingestion run did. Document
// rows carry terminal status, progress, per-stage statuses, artifact counts,
// and error messages so history survives daemon restarts even though running
// work does not.
//
// Batches left running by a crashed or stopped daemon are swept to
// interrupted at the next startup; their unfinished documents are marked
// failed. Schema changes bump the version in schema.go; users clear the
// database to adopt the new schema.
package catalog
