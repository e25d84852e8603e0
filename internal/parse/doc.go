// Package parse integrates the document parsing backend: an HTTP client
// for its API and a process adapter that launches and supervises it as a
// child of the daemon.
package parse
