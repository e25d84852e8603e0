package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"pulp/internal/logging"
	"pulp/internal/services"
)

const (
	entityPrefix   = "graphent:"
	relationPrefix = "graphrel:"
	documentPrefix = "graphdoc:"
)

// Entity is one node in the knowledge graph.
type Entity struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind"`
	Mentions  int       `json:"mentions"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Relation is one co-occurrence edge between two entities.
type Relation struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
	Kind      string    `json:"kind"`
	Weight    int       `json:"weight"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Result lists the graph records touched while processing one document.
type Result struct {
	EntityIDs   []string `json:"entity_ids"`
	RelationIDs []string `json:"relation_ids"`
}

// Stats summarizes graph size.
type Stats struct {
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
	Documents int `json:"documents"`
}

// Store extracts entities and relations from document content and
// persists them.
type Store interface {
	ExtractAndInsert(ctx context.Context, documentID, content string) (Result, error)
	Close() error
}

// BadgerStore runs the inline extractor and keeps the graph in a local
// badger database. Entities are global: the same name found in two
// documents lands on one node with accumulated mentions. Each document
// records its result under a marker key, so re-running the stage for a
// document returns the stored result instead of double counting.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
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

// Open opens or creates the graph database under dir.
func Open(dir string, logger *slog.Logger) (*BadgerStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create graph dir: %w", err)
	}
	return open(badger.DefaultOptions(dir), logger)
}

// OpenInMemory opens an ephemeral store for tests and dry runs.
func OpenInMemory(logger *slog.Logger) (*BadgerStore, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), logger)
}

func open(opts badger.Options, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	logger = logging.NewComponentLogger(logger, "graph")
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	return &BadgerStore{db: db, logger: logger}, nil
}

// ExtractAndInsert implements Store with the inline extractor.
func (s *BadgerStore) ExtractAndInsert(ctx context.Context, documentID, content string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(content) == "" {
		return Result{}, nil
	}

	if stored, found, err := s.documentResult(documentID); err != nil {
		return Result{}, services.Wrap(services.ErrStageExecution, "extract_graph", "load document marker", "", err)
	} else if found {
		return stored, nil
	}

	found := extract(content)
	now := time.Now().UTC()
	result := Result{}

	err := s.db.Update(func(txn *badger.Txn) error {
		for name, count := range found.mentions {
			entity, err := loadEntity(txn, slugify(name))
			if err != nil {
				return err
			}
			if entity.ID == "" {
				entity = Entity{ID: slugify(name), Name: name, Kind: "term"}
			}
			entity.Mentions += count
			entity.UpdatedAt = now
			if err := putJSON(txn, entityPrefix+entity.ID, entity); err != nil {
				return err
			}
			result.EntityIDs = append(result.EntityIDs, entity.ID)
		}
		for pair, weight := range found.cooccur {
			source, target := slugify(pair[0]), slugify(pair[1])
			id := source + "--" + target
			relation, err := loadRelation(txn, id)
			if err != nil {
				return err
			}
			if relation.ID == "" {
				relation = Relation{ID: id, Source: source, Target: target, Kind: "co_occurrence"}
			}
			relation.Weight += weight
			relation.UpdatedAt = now
			if err := putJSON(txn, relationPrefix+relation.ID, relation); err != nil {
				return err
			}
			result.RelationIDs = append(result.RelationIDs, relation.ID)
		}
		sort.Strings(result.EntityIDs)
		sort.Strings(result.RelationIDs)
		return putJSON(txn, documentPrefix+documentID, result)
	})
	if err != nil {
		return Result{}, services.Wrap(services.ErrStageExecution, "extract_graph", "persist graph", "", err)
	}
	s.logger.Debug("graph updated",
		logging.String("document_id", documentID),
		logging.Int("entities", len(result.EntityIDs)),
		logging.Int("relations", len(result.RelationIDs)))
	return result, nil
}

// Stats counts entities, relations, and recorded documents.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	if err := ctx.Err(); err != nil {
		return Stats{}, err
	}
	var stats Stats
	err := s.db.View(func(txn *badger.Txn) error {
		stats.Entities = countPrefix(txn, entityPrefix)
		stats.Relations = countPrefix(txn, relationPrefix)
		stats.Documents = countPrefix(txn, documentPrefix)
		return nil
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// Close shuts the database down.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) documentResult(documentID string) (Result, bool, error) {
	var result Result
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(documentPrefix + documentID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &result); err != nil {
				return err
			}
			found = true
			return nil
		})
	})
	return result, found, err
}

func loadEntity(txn *badger.Txn, id string) (Entity, error) {
	var entity Entity
	item, err := txn.Get([]byte(entityPrefix + id))
	if err == badger.ErrKeyNotFound {
		return Entity{}, nil
	}
	if err != nil {
		return Entity{}, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entity)
	})
	return entity, err
}

func loadRelation(txn *badger.Txn, id string) (Relation, error) {
	var relation Relation
	item, err := txn.Get([]byte(relationPrefix + id))
	if err == badger.ErrKeyNotFound {
		return Relation{}, nil
	}
	if err != nil {
		return Relation{}, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &relation)
	})
	return relation, err
}

func putJSON(txn *badger.Txn, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), payload)
}

func countPrefix(txn *badger.Txn, prefix string) int {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	iter := txn.NewIterator(opts)
	defer iter.Close()
	count := 0
	for iter.Rewind(); iter.Valid(); iter.Next() {
		count++
	}
	return count
}
