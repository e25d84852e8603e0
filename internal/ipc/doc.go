// Package ipc exposes the daemon over JSON-RPC Unix sockets and ships the
// matching client used by the CLI.
//
// It owns socket lifecycle management, request/response DTOs, and the typed
// call wrappers CLI commands use. Wire types alias the HTTP API DTOs so both
// control surfaces describe batches and documents the same way.
package ipc
