// Package resource probes host memory so the pipeline can refuse work
// when the machine is under pressure instead of thrashing mid-stage.
package resource
