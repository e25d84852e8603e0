package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"pulp/internal/chunking"
	"pulp/internal/config"
	"pulp/internal/embed"
	"pulp/internal/graph"
	"pulp/internal/logging"
	"pulp/internal/parse"
	"pulp/internal/services"
	"pulp/internal/vector"
)

type fakeBackends struct {
	mu         sync.Mutex
	acquireErr error
	acquires   int
	releases   int
}

func (f *fakeBackends) Acquire(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquires++
	return nil
}

func (f *fakeBackends) Release(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
}

type fakeParser struct {
	result parse.Result
	err    error
	calls  int
}

func (f *fakeParser) Parse(ctx context.Context, sourcePath string) (parse.Result, error) {
	f.calls++
	if f.err != nil {
		return parse.Result{}, f.err
	}
	return f.result, nil
}

func parsedState(content string) *State {
	st := NewState(1)
	st.Content = content
	st.StageStatuses[StageParse] = StatusCompleted
	return st
}

func TestParseExecutorPopulatesContent(t *testing.T) {
	backends := &fakeBackends{}
	parser := &fakeParser{result: parse.Result{
		Content:  "Hello ingestion world.",
		Metadata: parse.Metadata{Title: "hello", Pages: 3},
	}}
	exec := NewParseExecutor(backends, parser, logging.NewNop())

	st := NewState(1)
	if err := exec.Run(context.Background(), Document{ID: "doc-1", SourcePath: "/tmp/doc.pdf"}, st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Content != "Hello ingestion world." {
		t.Fatalf("unexpected content %q", st.Content)
	}
	if st.Metadata.Pages != 3 {
		t.Fatalf("unexpected metadata %+v", st.Metadata)
	}
	if backends.acquires != 1 || backends.releases != 1 {
		t.Fatalf("expected one acquire and one release, got %d/%d", backends.acquires, backends.releases)
	}
}

func TestParseExecutorReleasesBackendOnFailure(t *testing.T) {
	backends := &fakeBackends{}
	parser := &fakeParser{err: services.Wrap(services.ErrUnavailable, "parse", "call parser", "boom", nil)}
	exec := NewParseExecutor(backends, parser, logging.NewNop())

	err := exec.Run(context.Background(), Document{ID: "doc-1"}, NewState(1))
	if err == nil {
		t.Fatal("expected parser error")
	}
	if backends.releases != 1 {
		t.Fatalf("expected release on failure path, got %d", backends.releases)
	}
}

func TestParseExecutorSkipsCallWhenAcquireFails(t *testing.T) {
	backends := &fakeBackends{acquireErr: services.Wrap(services.ErrStartupTimeout, "", "start backend", "parser not ready", nil)}
	parser := &fakeParser{}
	exec := NewParseExecutor(backends, parser, logging.NewNop())

	err := exec.Run(context.Background(), Document{ID: "doc-1"}, NewState(1))
	if !errors.Is(err, services.ErrStartupTimeout) {
		t.Fatalf("expected startup timeout, got %v", err)
	}
	if parser.calls != 0 {
		t.Fatalf("parser should not be called after acquire failure, got %d calls", parser.calls)
	}
	if backends.releases != 0 {
		t.Fatalf("no release expected for a failed acquire, got %d", backends.releases)
	}
}

func TestChunkExecutorRequiresParsedContent(t *testing.T) {
	splitter := chunking.NewSplitter(config.Chunking{Size: 64, Overlap: 8, Strategy: "paragraph", Encoding: "test-approx"}, logging.NewNop())
	exec := NewChunkExecutor(splitter)

	err := exec.Run(context.Background(), Document{ID: "doc-1"}, NewState(1))
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestChunkExecutorSplitsContent(t *testing.T) {
	splitter := chunking.NewSplitter(config.Chunking{Size: 8, Overlap: 0, Strategy: "paragraph", Encoding: "test-approx"}, logging.NewNop())
	exec := NewChunkExecutor(splitter)

	st := parsedState("alpha beta gamma delta.\n\nsecond paragraph with more words here.")
	if err := exec.Run(context.Background(), Document{ID: "doc-1"}, st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.Chunks) == 0 {
		t.Fatal("expected chunks")
	}
	for _, chunk := range st.Chunks {
		if !strings.HasPrefix(chunk.ID, "doc-1:") {
			t.Fatalf("chunk ID %q not derived from document", chunk.ID)
		}
	}
}

func TestEmbedExecutorRequiresChunks(t *testing.T) {
	store, err := vector.OpenInMemory(embed.NewStaticEmbedder(4), logging.NewNop())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer store.Close()

	exec := NewEmbedExecutor(store)
	runErr := exec.Run(context.Background(), Document{ID: "doc-1"}, parsedState("content"))
	if !errors.Is(runErr, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", runErr)
	}
}

func TestEmbedExecutorWritesVectors(t *testing.T) {
	store, err := vector.OpenInMemory(embed.NewStaticEmbedder(4), logging.NewNop())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer store.Close()

	st := parsedState("alpha beta")
	st.StageStatuses[StageChunk] = StatusCompleted
	st.Chunks = []chunking.Chunk{
		{ID: "doc-1:0000", Index: 0, Text: "alpha", TokenCount: 2},
		{ID: "doc-1:0001", Index: 1, Text: "beta", TokenCount: 2},
	}

	exec := NewEmbedExecutor(store)
	if err := exec.Run(context.Background(), Document{ID: "doc-1"}, st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.VectorIDs) != 2 {
		t.Fatalf("expected 2 vector IDs, got %v", st.VectorIDs)
	}
}

func TestGraphExecutorRecordsEntities(t *testing.T) {
	store, err := graph.OpenInMemory(logging.NewNop())
	if err != nil {
		t.Fatalf("OpenInMemory: %v", err)
	}
	defer store.Close()

	st := parsedState("Marie Curie moved to Paris. Marie Curie studied physics.")
	exec := NewGraphExecutor(store)
	if err := exec.Run(context.Background(), Document{ID: "doc-1"}, st); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(st.EntityIDs) == 0 {
		t.Fatal("expected entity IDs")
	}
	found := false
	for _, id := range st.EntityIDs {
		if id == "marie-curie" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected marie-curie in %v", st.EntityIDs)
	}
}

func TestExecutorsCoverStagesInOrder(t *testing.T) {
	splitter := chunking.NewSplitter(config.Chunking{Size: 64, Overlap: 8, Strategy: "paragraph", Encoding: "test-approx"}, logging.NewNop())
	vectors, err := vector.OpenInMemory(embed.NewStaticEmbedder(4), logging.NewNop())
	if err != nil {
		t.Fatalf("vector.OpenInMemory: %v", err)
	}
	defer vectors.Close()
	graphs, err := graph.OpenInMemory(logging.NewNop())
	if err != nil {
		t.Fatalf("graph.OpenInMemory: %v", err)
	}
	defer graphs.Close()

	execs := Executors(&fakeBackends{}, &fakeParser{}, splitter, vectors, graphs, logging.NewNop())
	want := Stages()
	if len(execs) != len(want) {
		t.Fatalf("expected %d executors, got %d", len(want), len(execs))
	}
	for i, exec := range execs {
		if exec.Stage() != want[i] {
			t.Fatalf("executor %d runs %s, want %s", i, exec.Stage(), want[i])
		}
	}
}
