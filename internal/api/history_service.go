package api

import (
	"context"

	"pulp/internal/catalog"
)

// CatalogReader abstracts catalog persistence interactions needed for API
// queries.
type CatalogReader interface {
	ListBatches(ctx context.Context, limit int) ([]*catalog.Batch, error)
	GetBatch(ctx context.Context, batchID string) (*catalog.Batch, error)
	ListDocuments(ctx context.Context, batchID string) ([]*catalog.Document, error)
	Stats(ctx context.Context) (map[catalog.DocumentStatus]int, error)
}

// HistoryService exposes read-only catalog operations returning API DTOs.
type HistoryService struct {
	store CatalogReader
}

// NewHistoryService constructs a HistoryService around the provided reader.
func NewHistoryService(store CatalogReader) *HistoryService {
	if store == nil {
		return nil
	}
	return &HistoryService{store: store}
}

// List returns the most recent batches, newest first.
func (s *HistoryService) List(ctx context.Context, limit int) ([]Batch, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	batches, err := s.store.ListBatches(ctx, limit)
	if err != nil {
		return nil, err
	}
	return FromBatches(batches), nil
}

// Describe fetches one batch together with its documents.
func (s *HistoryService) Describe(ctx context.Context, batchID string) (*BatchDetail, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	b, err := s.store.GetBatch(ctx, batchID)
	if err != nil || b == nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return &BatchDetail{Batch: FromBatch(b), Documents: FromDocuments(docs)}, nil
}

// Stats returns catalog summary counts keyed by document status.
func (s *HistoryService) Stats(ctx context.Context) (map[string]int, error) {
	if s == nil || s.store == nil {
		return nil, nil
	}
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return MergeCatalogStats(stats), nil
}
