// Package events defines the progress event types emitted while batches
// run and the bus that distributes them. The bus keeps a bounded replay
// window so pollers can catch up with a cursor, and it never blocks on a
// slow live subscriber.
package events
