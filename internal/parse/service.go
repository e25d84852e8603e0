package parse

import "context"

// Metadata summarizes the structure the parser recovered from a source
// document.
type Metadata struct {
	Title  string `json:"title,omitempty"`
	Pages  int    `json:"pages"`
	Tables int    `json:"tables"`
	Images int    `json:"images"`
}

// Result is the parser output for one document.
type Result struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// Service converts a source file into plain text plus structure metadata.
type Service interface {
	Parse(ctx context.Context, sourcePath string) (Result, error)
}
