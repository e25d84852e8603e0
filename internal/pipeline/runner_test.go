package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"pulp/internal/config"
	"pulp/internal/events"
	"pulp/internal/logging"
	"pulp/internal/resource"
	"pulp/internal/services"
)

type scriptedExecutor struct {
	stage Stage
	run   func(ctx context.Context, doc Document, st *State) error

	mu    sync.Mutex
	calls int
	errs  []error
}

func scripted(stage Stage, errs ...error) *scriptedExecutor {
	return &scriptedExecutor{stage: stage, errs: errs}
}

func (s *scriptedExecutor) Stage() Stage { return s.stage }

func (s *scriptedExecutor) Run(ctx context.Context, doc Document, st *State) error {
	s.mu.Lock()
	idx := s.calls
	s.calls++
	s.mu.Unlock()
	if s.run != nil {
		return s.run(ctx, doc, st)
	}
	if idx < len(s.errs) {
		return s.errs[idx]
	}
	return nil
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func runnerConfig() *config.Config {
	cfg := config.Default()
	cfg.Pipeline.MaxRetries = 2
	cfg.Pipeline.RetryBackoffSeconds = 0
	cfg.Resources.MinAvailableMemoryMB = 512
	return &cfg
}

func allStagesScripted() (*scriptedExecutor, *scriptedExecutor, *scriptedExecutor, *scriptedExecutor, []Executor) {
	parse := scripted(StageParse)
	chunk := scripted(StageChunk)
	embed := scripted(StageEmbed)
	extract := scripted(StageExtractGraph)
	return parse, chunk, embed, extract, []Executor{parse, chunk, embed, extract}
}

func testDoc() Document {
	return Document{ID: "doc-1", BatchID: "batch-1", BatchIndex: 1, SourcePath: "/tmp/doc-1.pdf"}
}

func progressEvents(bus *events.Bus) []events.DocumentProgress {
	var out []events.DocumentProgress
	for _, evt := range bus.Tail(200) {
		if evt.Type == events.TypeDocumentProgress && evt.DocumentProgress != nil {
			out = append(out, *evt.DocumentProgress)
		}
	}
	return out
}

func retryableErr(stage Stage) error {
	return services.Wrap(services.ErrTimeout, string(stage), "call backend", "deadline exceeded", nil)
}

func TestRunCompletesDocumentThroughAllStages(t *testing.T) {
	_, _, _, _, execs := allStagesScripted()
	bus := events.NewBus(128, 32, logging.NewNop())
	defer bus.Close()

	runner := NewRunner(runnerConfig(), resource.NewStaticMonitor(4096), execs, bus, nil, logging.NewNop())
	st := runner.Run(context.Background(), testDoc())

	if st.Phase != PhaseDone {
		t.Fatalf("expected done, got %s", st.Phase)
	}
	if st.Progress != 1.0 {
		t.Fatalf("expected progress 1.0, got %v", st.Progress)
	}
	for _, stage := range Stages() {
		if st.StageStatuses[stage] != StatusCompleted {
			t.Fatalf("stage %s not completed: %s", stage, st.StageStatuses[stage])
		}
	}
	if len(st.Errors) != 0 {
		t.Fatalf("unexpected errors %v", st.Errors)
	}
	if st.Memory.AvailableMB != 4096 {
		t.Fatalf("memory snapshot not recorded: %+v", st.Memory)
	}

	evts := progressEvents(bus)
	if len(evts) != 5 {
		t.Fatalf("expected 5 progress events (1 gate, 4 completions), got %d", len(evts))
	}
	if evts[0].Phase != string(PhaseParse) || evts[0].Progress != 0 {
		t.Fatalf("unexpected first event %+v", evts[0])
	}
	last := evts[len(evts)-1]
	if last.Phase != string(PhaseDone) || last.Progress != 1.0 {
		t.Fatalf("unexpected final event %+v", last)
	}
	for i, evt := range evts {
		if evt.DocumentID != "doc-1" || evt.BatchID != "batch-1" || evt.BatchIndex != 1 {
			t.Fatalf("event %d missing identity fields: %+v", i, evt)
		}
		if want := stageProgressShare * float64(i); evt.Progress != want {
			t.Fatalf("event %d progress = %v, want %v", i, evt.Progress, want)
		}
	}
	for i, stage := range Stages() {
		completion := evts[i+1]
		if completion.StageStatuses[string(stage)] != string(StatusCompleted) {
			t.Fatalf("event %d should show %s completed, got %+v", i+1, stage, completion.StageStatuses)
		}
	}
}

func TestRunMirrorsEverySnapshotToRecorder(t *testing.T) {
	_, _, _, _, execs := allStagesScripted()
	bus := events.NewBus(128, 32, logging.NewNop())
	defer bus.Close()

	type snapshot struct {
		documentID string
		phase      Phase
		progress   float64
	}
	var mu sync.Mutex
	var seen []snapshot

	runner := NewRunner(runnerConfig(), resource.NewStaticMonitor(4096), execs, bus, nil, logging.NewNop())
	runner.SetRecorder(func(doc Document, st *State) {
		mu.Lock()
		seen = append(seen, snapshot{documentID: doc.ID, phase: st.Phase, progress: st.Progress})
		mu.Unlock()
	})
	runner.Run(context.Background(), testDoc())

	evts := progressEvents(bus)
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(evts) {
		t.Fatalf("expected one recorder call per published event, got %d calls for %d events", len(seen), len(evts))
	}
	for i, snap := range seen {
		if snap.documentID != "doc-1" {
			t.Fatalf("recorder call %d carries document %q", i, snap.documentID)
		}
	}
	final := seen[len(seen)-1]
	if final.phase != PhaseDone || final.progress != 1.0 {
		t.Fatalf("expected the last snapshot to be terminal, got phase %s progress %v", final.phase, final.progress)
	}
}

func TestRunAbortsWhenMemoryBelowFloor(t *testing.T) {
	parse, chunk, embed, extract, execs := allStagesScripted()
	bus := events.NewBus(128, 32, logging.NewNop())
	defer bus.Close()

	runner := NewRunner(runnerConfig(), resource.NewStaticMonitor(128), execs, bus, nil, logging.NewNop())
	st := runner.Run(context.Background(), testDoc())

	if st.Phase != PhaseAborted {
		t.Fatalf("expected aborted, got %s", st.Phase)
	}
	if st.Outcome() != "aborted" {
		t.Fatalf("unexpected outcome %q", st.Outcome())
	}
	for _, exec := range []*scriptedExecutor{parse, chunk, embed, extract} {
		if exec.callCount() != 0 {
			t.Fatalf("stage %s executed despite aborted gate", exec.stage)
		}
	}
	if len(st.Errors) != 1 || st.Errors[0].Stage != StageMemoryCheck {
		t.Fatalf("expected one memory_check error, got %v", st.Errors)
	}

	evts := progressEvents(bus)
	if len(evts) != 1 {
		t.Fatalf("expected a single aborted event, got %d", len(evts))
	}
	if evts[0].Phase != string(PhaseAborted) || evts[0].Progress != 0 {
		t.Fatalf("unexpected aborted event %+v", evts[0])
	}
}

func TestRunAbortsWhenProbeFails(t *testing.T) {
	_, _, _, _, execs := allStagesScripted()
	monitor := &resource.StaticMonitor{Err: services.Wrap(services.ErrResourceInsufficient, "", "probe memory", "no reading", nil)}

	runner := NewRunner(runnerConfig(), monitor, execs, nil, nil, logging.NewNop())
	st := runner.Run(context.Background(), testDoc())

	if st.Phase != PhaseAborted {
		t.Fatalf("expected aborted, got %s", st.Phase)
	}
	if len(st.Errors) != 1 {
		t.Fatalf("expected probe error recorded, got %v", st.Errors)
	}
}

func TestRunRetriesRetryableFailureAndSucceeds(t *testing.T) {
	parse := scripted(StageParse, retryableErr(StageParse), nil)
	chunk := scripted(StageChunk)
	embed := scripted(StageEmbed)
	extract := scripted(StageExtractGraph)
	bus := events.NewBus(128, 32, logging.NewNop())
	defer bus.Close()

	runner := NewRunner(runnerConfig(), resource.NewStaticMonitor(4096), []Executor{parse, chunk, embed, extract}, bus, nil, logging.NewNop())
	st := runner.Run(context.Background(), testDoc())

	if st.Phase != PhaseDone {
		t.Fatalf("expected done after retry, got %s (errors %v)", st.Phase, st.Errors)
	}
	if parse.callCount() != 2 {
		t.Fatalf("expected 2 parse attempts, got %d", parse.callCount())
	}
	if len(st.Errors) != 1 || st.Errors[0].Stage != StageParse {
		t.Fatalf("expected one recorded parse error, got %v", st.Errors)
	}
	if st.StageStatuses[StageParse] != StatusCompleted {
		t.Fatalf("parse should end completed, got %s", st.StageStatuses[StageParse])
	}

	evts := progressEvents(bus)
	if len(evts) != 6 {
		t.Fatalf("expected 6 progress events (1 gate, 1 failure, 4 completions), got %d", len(evts))
	}
	sawFailure := false
	for _, evt := range evts {
		if evt.StageStatuses[string(StageParse)] == string(StatusFailed) {
			sawFailure = true
			if evt.Phase != string(PhaseParse) {
				t.Fatalf("retrying failure should keep the stage phase, got %q", evt.Phase)
			}
		}
	}
	if !sawFailure {
		t.Fatal("expected an event showing the failed parse attempt")
	}
}

func TestRunStopsAfterRetryBudgetExhausted(t *testing.T) {
	failing := retryableErr(StageParse)
	parse := scripted(StageParse, failing, failing, failing, failing)
	chunk := scripted(StageChunk)
	bus := events.NewBus(128, 32, logging.NewNop())
	defer bus.Close()

	runner := NewRunner(runnerConfig(), resource.NewStaticMonitor(4096), []Executor{parse, chunk}, bus, nil, logging.NewNop())
	st := runner.Run(context.Background(), testDoc())

	if st.Phase != PhaseFailed {
		t.Fatalf("expected failed, got %s", st.Phase)
	}
	if parse.callCount() != 3 {
		t.Fatalf("expected max_retries+1 = 3 attempts, got %d", parse.callCount())
	}
	if chunk.callCount() != 0 {
		t.Fatal("chunk must not run after a terminal parse failure")
	}
	if len(st.Errors) != 3 {
		t.Fatalf("expected 3 recorded errors, got %d", len(st.Errors))
	}
	if st.StageStatuses[StageParse] != StatusFailed {
		t.Fatalf("parse should end failed, got %s", st.StageStatuses[StageParse])
	}
	if st.StageStatuses[StageChunk] != StatusPending {
		t.Fatalf("chunk should stay pending, got %s", st.StageStatuses[StageChunk])
	}

	evts := progressEvents(bus)
	last := evts[len(evts)-1]
	if last.Phase != string(PhaseFailed) {
		t.Fatalf("final event should carry the failed phase, got %q", last.Phase)
	}
}

func TestRunFailsFastOnNonRetryableError(t *testing.T) {
	bad := services.Wrap(services.ErrValidation, string(StageParse), "call parser", "malformed input", nil)
	parse := scripted(StageParse, bad, bad, bad)
	chunk := scripted(StageChunk)

	runner := NewRunner(runnerConfig(), resource.NewStaticMonitor(4096), []Executor{parse, chunk}, nil, nil, logging.NewNop())
	st := runner.Run(context.Background(), testDoc())

	if st.Phase != PhaseFailed {
		t.Fatalf("expected failed, got %s", st.Phase)
	}
	if parse.callCount() != 1 {
		t.Fatalf("non-retryable failure should not be retried, got %d attempts", parse.callCount())
	}
	if chunk.callCount() != 0 {
		t.Fatal("chunk must not run after the parse failure")
	}
}

func TestRunChecksCancellationOnlyBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	parse := scripted(StageParse)
	parse.run = func(execCtx context.Context, doc Document, st *State) error {
		cancel()
		if err := execCtx.Err(); err != nil {
			return fmt.Errorf("stage context interrupted mid-flight: %w", err)
		}
		return nil
	}
	chunk := scripted(StageChunk)
	bus := events.NewBus(128, 32, logging.NewNop())
	defer bus.Close()

	runner := NewRunner(runnerConfig(), resource.NewStaticMonitor(4096), []Executor{parse, chunk}, bus, nil, logging.NewNop())
	st := runner.Run(ctx, testDoc())

	if st.StageStatuses[StageParse] != StatusCompleted {
		t.Fatalf("in-flight parse should finish despite cancellation, got %s", st.StageStatuses[StageParse])
	}
	if st.Phase != PhaseCancelled {
		t.Fatalf("expected cancelled, got %s", st.Phase)
	}
	if chunk.callCount() != 0 {
		t.Fatal("no stage may start after cancellation is observed")
	}

	evts := progressEvents(bus)
	if len(evts) != 3 {
		t.Fatalf("expected gate + parse completion + terminal cancellation, got %d", len(evts))
	}
	last := evts[len(evts)-1]
	if last.Phase != string(PhaseCancelled) {
		t.Fatalf("final event should carry the cancelled phase, got %q", last.Phase)
	}
	if last.StageStatuses[string(StageParse)] != string(StatusCompleted) {
		t.Fatalf("terminal snapshot should keep the finished parse, got %+v", last.StageStatuses)
	}
}

func TestRunCancelledBeforeStartEmitsTerminalEvent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	parse, _, _, _, execs := allStagesScripted()
	bus := events.NewBus(128, 32, logging.NewNop())
	defer bus.Close()

	runner := NewRunner(runnerConfig(), resource.NewStaticMonitor(4096), execs, bus, nil, logging.NewNop())
	st := runner.Run(ctx, testDoc())

	if st.Phase != PhaseCancelled {
		t.Fatalf("expected cancelled, got %s", st.Phase)
	}
	if st.Outcome() != "cancelled" {
		t.Fatalf("unexpected outcome %q", st.Outcome())
	}
	if parse.callCount() != 0 {
		t.Fatal("no stage may run for a pre-cancelled document")
	}
	evts := progressEvents(bus)
	if len(evts) != 1 {
		t.Fatalf("expected a single cancelled event, got %d", len(evts))
	}
	if evts[0].Phase != string(PhaseCancelled) || evts[0].Progress != 0 {
		t.Fatalf("unexpected cancelled event %+v", evts[0])
	}
}

func TestRunCancelledDuringBackoffStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	parse := scripted(StageParse)
	parse.run = func(execCtx context.Context, doc Document, st *State) error {
		cancel()
		return retryableErr(StageParse)
	}
	bus := events.NewBus(128, 32, logging.NewNop())
	defer bus.Close()

	runner := NewRunner(runnerConfig(), resource.NewStaticMonitor(4096), []Executor{parse}, bus, nil, logging.NewNop())
	st := runner.Run(ctx, testDoc())

	if st.Phase != PhaseCancelled {
		t.Fatalf("expected cancelled, got %s", st.Phase)
	}
	if parse.callCount() != 1 {
		t.Fatalf("no retry may start after cancellation, got %d attempts", parse.callCount())
	}

	evts := progressEvents(bus)
	if len(evts) == 0 {
		t.Fatal("expected progress events for the interrupted document")
	}
	last := evts[len(evts)-1]
	if last.Phase != string(PhaseCancelled) {
		t.Fatalf("final event should carry the cancelled phase, got %q", last.Phase)
	}
	if last.StageStatuses[string(StageParse)] != string(StatusFailed) {
		t.Fatalf("terminal snapshot should keep the failed attempt, got %+v", last.StageStatuses)
	}
}

func TestRunResetsRetryBudgetPerStage(t *testing.T) {
	cfg := runnerConfig()
	cfg.Pipeline.MaxRetries = 1

	parse := scripted(StageParse, retryableErr(StageParse), nil)
	chunk := scripted(StageChunk, retryableErr(StageChunk), nil)
	embed := scripted(StageEmbed)
	extract := scripted(StageExtractGraph)

	runner := NewRunner(cfg, resource.NewStaticMonitor(4096), []Executor{parse, chunk, embed, extract}, nil, nil, logging.NewNop())
	st := runner.Run(context.Background(), testDoc())

	if st.Phase != PhaseDone {
		t.Fatalf("each stage should get its own retry budget, got %s (errors %v)", st.Phase, st.Errors)
	}
	if parse.callCount() != 2 || chunk.callCount() != 2 {
		t.Fatalf("expected 2 attempts per flaky stage, got parse=%d chunk=%d", parse.callCount(), chunk.callCount())
	}
	if len(st.Errors) != 2 {
		t.Fatalf("expected 2 recorded errors, got %d", len(st.Errors))
	}
}

func TestBackoffDelayDoubles(t *testing.T) {
	cfg := runnerConfig()
	cfg.Pipeline.RetryBackoffSeconds = 2
	runner := NewRunner(cfg, resource.NewStaticMonitor(4096), nil, nil, nil, logging.NewNop())

	cases := map[int]time.Duration{
		1: 2 * time.Second,
		2: 4 * time.Second,
		3: 8 * time.Second,
	}
	for retry, want := range cases {
		if got := runner.backoffDelay(retry); got != want {
			t.Fatalf("backoffDelay(%d) = %s, want %s", retry, got, want)
		}
	}

	cfg.Pipeline.RetryBackoffSeconds = 0
	if got := runner.backoffDelay(1); got != 0 {
		t.Fatalf("zero base should disable backoff, got %s", got)
	}
}
