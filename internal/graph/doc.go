// Package graph builds a lightweight knowledge graph from parsed
// documents, either through the embedded extractor and badger store or
// by delegating to a remote graph service.
package graph
