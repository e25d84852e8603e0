// Package embed wraps the OpenAI-compatible embedding API used to vectorize
// document chunks.
package embed
