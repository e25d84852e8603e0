// Package daemon coordinates the long-running pulp process.
//
// It wires configuration, the catalog, the event bus, managed backends,
// and the batch coordinator into a single lifecycle with flock-based
// locking to prevent multiple instances, and owns the IPC and HTTP
// control surfaces. Startup closes any documents left in-flight by a
// previous process; shutdown tears services down in reverse order.
//
// Keep orchestration logic here: pipeline stages and storage details
// live in their respective packages while the daemon focuses on startup,
// shutdown, and high level coordination.
package daemon
