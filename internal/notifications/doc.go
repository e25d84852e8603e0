// Package notifications delivers batch milestones via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Enumerated event types cover batch start and completion, document
// failures, and daemon lifecycle so callers can emit consistent messages
// without duplicating HTTP glue. Individual event families are gated by the
// notifications config section.
//
// Extend this package if you need alternative transports; all batch code
// depends only on the simple Service interface.
package notifications
