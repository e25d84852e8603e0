package chunking

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkoukk/tiktoken-go"
	"github.com/tmc/langchaingo/textsplitter"
	"golang.org/x/text/unicode/norm"

	"pulp/internal/config"
	"pulp/internal/logging"
)

// Chunk is one windowed slice of a document's content. IDs are minted once
// at split time and double as vector-store keys, so a retried embed pass
// rewrites the same records instead of accumulating duplicates.
type Chunk struct {
	ID         string `json:"id"`
	Index      int    `json:"index"`
	Text       string `json:"text"`
	TokenCount int    `json:"token_count"`
}

// Splitter windows normalized text into token-bounded chunks.
type Splitter struct {
	logger   *slog.Logger
	splitter textsplitter.RecursiveCharacter
	counter  tokenCounter
	size     int
	overlap  int
}

type tokenCounter interface {
	count(text string) int
}

type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

func (c tiktokenCounter) count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// approxCounter estimates four runes per token. It stands in when the
// configured encoding cannot be loaded, for example on hosts without the
// cached vocabulary.
type approxCounter struct{}

func (approxCounter) count(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}

// NewSplitter builds a splitter for the configured strategy, chunk size,
// and overlap. Sizes are measured in tokens.
func NewSplitter(cfg config.Chunking, logger *slog.Logger) *Splitter {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "chunking")

	size := cfg.Size
	if size <= 0 {
		size = 1200
	}
	overlap := cfg.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var counter tokenCounter
	if encoding, err := tiktoken.GetEncoding(cfg.Encoding); err == nil {
		counter = tiktokenCounter{encoding: encoding}
	} else {
		logger.Warn("token encoding unavailable, approximating counts",
			logging.String("encoding", cfg.Encoding),
			logging.Error(err))
		counter = approxCounter{}
	}

	splitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(size),
		textsplitter.WithChunkOverlap(overlap),
		textsplitter.WithSeparators(separatorsFor(cfg.Strategy)),
		textsplitter.WithLenFunc(counter.count),
	)

	return &Splitter{
		logger:   logger,
		splitter: splitter,
		counter:  counter,
		size:     size,
		overlap:  overlap,
	}
}

// Split windows content into chunks. The text is NFC-normalized and line
// endings are unified before splitting. Empty or whitespace-only content
// yields no chunks.
func (s *Splitter) Split(content string) ([]Chunk, error) {
	normalized := normalize(content)
	if strings.TrimSpace(normalized) == "" {
		return nil, nil
	}
	pieces, err := s.splitter.SplitText(normalized)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			ID:         uuid.NewString(),
			Index:      len(chunks),
			Text:       piece,
			TokenCount: s.counter.count(piece),
		})
	}
	return chunks, nil
}

func separatorsFor(strategy string) []string {
	switch strategy {
	case "sentence":
		return []string{". ", "! ", "? ", "\n", " ", ""}
	case "fixed":
		return []string{" ", ""}
	default:
		return []string{"\n\n", "\n", " ", ""}
	}
}

func normalize(content string) string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	content = strings.ReplaceAll(content, "\r", "\n")
	return norm.NFC.String(content)
}
