package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"pulp/internal/chunking"
	"pulp/internal/embed"
	"pulp/internal/logging"
	"pulp/internal/services"
)

const recordPrefix = "vecrec:"

// Record is one persisted chunk embedding.
type Record struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"index"`
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Vector     []float32 `json:"vector"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store embeds chunks and persists the resulting vectors.
type Store interface {
	UpsertChunks(ctx context.Context, documentID string, chunks []chunking.Chunk) ([]string, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// BadgerStore keeps chunk vectors in a badger database. Records are keyed
// by chunk ID, so re-running the embed stage for the same chunks overwrites
// the same keys instead of duplicating records.
type BadgerStore struct {
	db       *badger.DB
	embedder embed.Embedder
	logger   *slog.Logger
}

type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (a *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	a.logger.Error(fmt.Sprintf(msg, items...))
}

func (a *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	a.logger.Warn(fmt.Sprintf(msg, items...))
}

func (a *badgerLoggerAdapter) Infof(msg string, items ...any) {
	a.logger.Debug(fmt.Sprintf(msg, items...))
}

func (a *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	a.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens or creates the vector database under dir.
func Open(dir string, embedder embed.Embedder, logger *slog.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create vector dir: %w", err)
	}
	return open(badger.DefaultOptions(dir), embedder, logger)
}

// OpenInMemory opens an ephemeral store for tests and dry runs.
func OpenInMemory(embedder embed.Embedder, logger *slog.Logger) (*BadgerStore, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), embedder, logger)
}

func open(opts badger.Options, embedder embed.Embedder, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "vector")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open vector store: %w", err)
	}
	return &BadgerStore{db: db, embedder: embedder, logger: logger}, nil
}

// UpsertChunks embeds every chunk and writes one record per chunk,
// returning the vector IDs in chunk order.
func (s *BadgerStore) UpsertChunks(ctx context.Context, documentID string, chunks []chunking.Chunk) ([]string, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}
	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	ids := make([]string, len(chunks))
	err = s.db.Update(func(txn *badger.Txn) error {
		for i, chunk := range chunks {
			record := Record{
				ID:         chunk.ID,
				DocumentID: documentID,
				Index:      chunk.Index,
				Text:       chunk.Text,
				TokenCount: chunk.TokenCount,
				Vector:     vectors[i],
				CreatedAt:  now,
			}
			payload, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("encode record %s: %w", chunk.ID, err)
			}
			if err := txn.Set(recordKey(chunk.ID), payload); err != nil {
				return err
			}
			ids[i] = chunk.ID
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrStageExecution, "embed", "persist vectors", "", err)
	}
	s.logger.Debug("persisted chunk vectors",
		logging.String("document_id", documentID),
		logging.Int("count", len(ids)))
	return ids, nil
}

// Get loads one record by chunk ID.
func (s *BadgerStore) Get(ctx context.Context, chunkID string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	var record Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(chunkID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &record); err != nil {
				return fmt.Errorf("decode record %s: %w", chunkID, err)
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return Record{}, false, err
	}
	return record, found, nil
}

// Count reports the number of stored vectors.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(recordPrefix)
		opts.PrefetchValues = false
		iter := txn.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// Close shuts the database down.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func recordKey(chunkID string) []byte {
	return []byte(recordPrefix + chunkID)
}
