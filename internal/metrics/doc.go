// Package metrics registers the Prometheus collectors for the daemon:
// document outcomes, stage timings and retries, batch occupancy, backend
// launches, event bus health, and host memory.
package metrics
