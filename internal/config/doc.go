// Package config loads, normalizes, and validates pulp configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// OPENAI_API_KEY for the embedding endpoint. The Config type centralizes every
// knob the daemon and CLI need, so data directories, backend endpoints, and
// pipeline limits are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
