// Package vector persists chunk embeddings in a local badger database.
package vector
