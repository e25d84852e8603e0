package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"pulp/internal/config"
	"pulp/internal/logging"
	"pulp/internal/services"
)

// Embedder turns chunk texts into vectors.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Service embeds text through an OpenAI-compatible API.
type Service struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
	model    string
}

// NewService builds an embedder from the embedding configuration. An
// empty API key is replaced with a placeholder token so local
// OpenAI-compatible services that skip authentication still work.
func NewService(cfg config.Embedding, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	token := cfg.APIKey
	if token == "" {
		token = "none"
	}
	opts := []openai.Option{
		openai.WithToken(token),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "embed", "build client", "", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "embed", "build embedder", "", err)
	}
	return &Service{
		embedder: embedder,
		logger:   logging.NewComponentLogger(logger, "embed"),
		model:    cfg.Model,
	}, nil
}

// Model reports the configured embedding model.
func (s *Service) Model() string { return s.model }

// EmbedTexts embeds texts in order. The result always has one vector per
// input text.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	s.logger.Debug("embedding chunk batch",
		logging.Int("count", len(texts)),
		logging.String("model", s.model))
	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, services.Wrap(services.ErrTimeout, "embed", "embed chunks",
				"embedding service did not answer before the deadline", err)
		}
		if errors.Is(err, context.Canceled) {
			return nil, services.Wrap(services.ErrCancelled, "embed", "embed chunks", "", err)
		}
		return nil, services.Wrap(services.ErrUnavailable, "embed", "embed chunks",
			"embedding request failed", err)
	}
	if len(vectors) != len(texts) {
		return nil, services.Wrap(services.ErrStageExecution, "embed", "embed chunks",
			fmt.Sprintf("expected %d vectors, got %d", len(texts), len(vectors)), nil)
	}
	return vectors, nil
}
