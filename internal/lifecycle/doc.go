// Package lifecycle supervises the external backends the pipeline
// depends on. Backends launch on first demand, are health-polled until
// ready, are shared by reference counting, and stop when the last holder
// lets go.
package lifecycle
