package embed

import (
	"context"
	"hash/fnv"
)

// StaticEmbedder deterministically hashes texts into small vectors. It
// keeps tests and offline smoke runs independent of any embedding API.
type StaticEmbedder struct {
	Dimensions int
	Err        error
}

// NewStaticEmbedder returns a hashing embedder with the given vector
// width.
func NewStaticEmbedder(dimensions int) *StaticEmbedder {
	if dimensions <= 0 {
		dimensions = 8
	}
	return &StaticEmbedder{Dimensions: dimensions}
}

// EmbedTexts implements Embedder.
func (s *StaticEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, s.Dimensions)
		hash := fnv.New32a()
		hash.Write([]byte(text))
		seed := hash.Sum32()
		for d := range vector {
			seed = seed*1664525 + 1013904223
			vector[d] = float32(seed%1000) / 1000
		}
		vectors[i] = vector
	}
	return vectors, nil
}
