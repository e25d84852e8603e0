// Package chunking windows parsed document text into token-bounded,
// overlapping chunks ready for embedding.
package chunking
