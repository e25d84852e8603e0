package pipeline

import (
	"context"
	"log/slog"

	"pulp/internal/chunking"
	"pulp/internal/graph"
	"pulp/internal/logging"
	"pulp/internal/parse"
	"pulp/internal/services"
	"pulp/internal/vector"
)

// ParserBackendName is the lifecycle registration key for the managed
// parsing backend.
const ParserBackendName = "parser"

// Executor runs one pipeline stage against a document. Implementations
// populate stage-specific state fields and surface failures as classified
// errors; status bookkeeping belongs to the runner.
type Executor interface {
	Stage() Stage
	Run(ctx context.Context, doc Document, st *State) error
}

// BackendManager is the slice of the lifecycle manager the parse executor
// needs: checkout and return of a named backend.
type BackendManager interface {
	Acquire(ctx context.Context, name string) error
	Release(name string)
}

// ParseExecutor converts a source file into normalized text content via the
// managed parsing backend. The backend is acquired before the call and
// released on every path out.
type ParseExecutor struct {
	backends BackendManager
	service  parse.Service
	logger   *slog.Logger
}

// NewParseExecutor wires the parse stage to its backend and service.
func NewParseExecutor(backends BackendManager, service parse.Service, logger *slog.Logger) *ParseExecutor {
	return &ParseExecutor{
		backends: backends,
		service:  service,
		logger:   logging.NewComponentLogger(logger, "parse-executor"),
	}
}

// Stage identifies the pipeline step this executor runs.
func (e *ParseExecutor) Stage() Stage { return StageParse }

// Run acquires the parser backend, parses the document source, and stores
// the extracted content and metadata on the state.
func (e *ParseExecutor) Run(ctx context.Context, doc Document, st *State) error {
	if err := e.backends.Acquire(ctx, ParserBackendName); err != nil {
		return err
	}
	defer e.backends.Release(ParserBackendName)

	result, err := e.service.Parse(ctx, doc.SourcePath)
	if err != nil {
		return err
	}
	st.Content = result.Content
	st.Metadata = result.Metadata
	e.logger.Debug("document parsed",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.Int("pages", result.Metadata.Pages),
		logging.Int("content_bytes", len(result.Content)))
	return nil
}

// ChunkExecutor splits parsed content into token-bounded chunks.
type ChunkExecutor struct {
	splitter *chunking.Splitter
}

// NewChunkExecutor wires the chunk stage to a splitter.
func NewChunkExecutor(splitter *chunking.Splitter) *ChunkExecutor {
	return &ChunkExecutor{splitter: splitter}
}

// Stage identifies the pipeline step this executor runs.
func (e *ChunkExecutor) Stage() Stage { return StageChunk }

// Run splits the parsed content. An empty document yields zero chunks and
// still counts as success.
func (e *ChunkExecutor) Run(ctx context.Context, doc Document, st *State) error {
	if st.StageStatuses[StageParse] != StatusCompleted {
		return services.Wrap(services.ErrValidation, string(StageChunk), "check input",
			"document has no parsed content to split", nil)
	}
	chunks, err := e.splitter.Split(st.Content)
	if err != nil {
		return err
	}
	st.Chunks = chunks
	return nil
}

// EmbedExecutor writes chunk embeddings into the vector store.
type EmbedExecutor struct {
	store vector.Store
}

// NewEmbedExecutor wires the embed stage to a vector store.
func NewEmbedExecutor(store vector.Store) *EmbedExecutor {
	return &EmbedExecutor{store: store}
}

// Stage identifies the pipeline step this executor runs.
func (e *EmbedExecutor) Stage() Stage { return StageEmbed }

// Run embeds and persists the document's chunks, recording the resulting
// vector identifiers.
func (e *EmbedExecutor) Run(ctx context.Context, doc Document, st *State) error {
	if st.StageStatuses[StageChunk] != StatusCompleted {
		return services.Wrap(services.ErrValidation, string(StageEmbed), "check input",
			"document has not been chunked", nil)
	}
	ids, err := e.store.UpsertChunks(ctx, doc.ID, st.Chunks)
	if err != nil {
		return err
	}
	st.VectorIDs = ids
	return nil
}

// GraphExecutor extracts entities and relations from parsed content and
// inserts them into the graph store.
type GraphExecutor struct {
	store graph.Store
}

// NewGraphExecutor wires the extract_graph stage to a graph store.
func NewGraphExecutor(store graph.Store) *GraphExecutor {
	return &GraphExecutor{store: store}
}

// Stage identifies the pipeline step this executor runs.
func (e *GraphExecutor) Stage() Stage { return StageExtractGraph }

// Run extracts graph structure from the document content and records the
// touched entity and relation identifiers.
func (e *GraphExecutor) Run(ctx context.Context, doc Document, st *State) error {
	if st.StageStatuses[StageParse] != StatusCompleted {
		return services.Wrap(services.ErrValidation, string(StageExtractGraph), "check input",
			"document has no parsed content to extract from", nil)
	}
	result, err := e.store.ExtractAndInsert(ctx, doc.ID, st.Content)
	if err != nil {
		return err
	}
	st.EntityIDs = result.EntityIDs
	st.RelationIDs = result.RelationIDs
	return nil
}

// Executors bundles the standard stage set in processing order.
func Executors(backends BackendManager, parser parse.Service, splitter *chunking.Splitter, vectors vector.Store, graphs graph.Store, logger *slog.Logger) []Executor {
	return []Executor{
		NewParseExecutor(backends, parser, logger),
		NewChunkExecutor(splitter),
		NewEmbedExecutor(vectors),
		NewGraphExecutor(graphs),
	}
}
