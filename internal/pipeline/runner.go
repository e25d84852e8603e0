package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pulp/internal/config"
	"pulp/internal/events"
	"pulp/internal/logging"
	"pulp/internal/metrics"
	"pulp/internal/resource"
	"pulp/internal/services"
)

// stageProgressShare is the overall-progress increment per completed stage.
const stageProgressShare = 0.25

// Runner drives one document at a time through the stage machine. The
// context passed to Run governs cancellation between stages only; in-flight
// stage calls run under their own per-stage timeouts and are never
// interrupted by a batch abort.
type Runner struct {
	cfg       *config.Config
	monitor   resource.Monitor
	executors []Executor
	bus       *events.Bus
	metrics   *metrics.Metrics
	logger    *slog.Logger
	record    func(Document, *State)
}

// NewRunner assembles a document runner around the shared collaborators.
// The bus and metrics may be nil when progress streaming or instrumentation
// is not wanted.
func NewRunner(cfg *config.Config, monitor resource.Monitor, executors []Executor, bus *events.Bus, m *metrics.Metrics, logger *slog.Logger) *Runner {
	return &Runner{
		cfg:       cfg,
		monitor:   monitor,
		executors: executors,
		bus:       bus,
		metrics:   m,
		logger:    logging.NewComponentLogger(logger, "runner"),
	}
}

// SetRecorder installs a best-effort mirror invoked after every published
// progress snapshot. The daemon points this at the catalog so history rows
// track in-flight documents, not just their outcomes.
func (r *Runner) SetRecorder(fn func(Document, *State)) {
	r.record = fn
}

// Run drives the document to a terminal phase and returns its final state.
// Failures are recorded on the state rather than returned; the caller
// inspects the phase and error list.
func (r *Runner) Run(ctx context.Context, doc Document) *State {
	ctx = services.WithBatchID(ctx, doc.BatchID)
	ctx = services.WithDocumentID(ctx, doc.ID)
	logger := logging.WithContext(ctx, r.logger)

	st := NewState(r.cfg.Pipeline.MaxRetries)
	r.process(ctx, doc, st, logger)

	r.metrics.RecordDocument(st.Outcome())
	logger.Info("document finished",
		logging.String("outcome", st.Outcome()),
		logging.Float64("progress", st.Progress),
		logging.Duration("elapsed", st.FinishedAt.Sub(st.StartedAt)))
	return st
}

func (r *Runner) process(ctx context.Context, doc Document, st *State, logger *slog.Logger) {
	if ctx.Err() != nil {
		r.advance(st, PhaseCancelled, logger)
		r.publish(doc, st)
		return
	}
	if !r.memoryGate(ctx, doc, st, logger) {
		return
	}
	for _, exec := range r.executors {
		if ctx.Err() != nil {
			r.advance(st, PhaseCancelled, logger)
			r.publish(doc, st)
			logger.Debug("document interrupted before stage",
				logging.String(logging.FieldStage, string(exec.Stage())))
			return
		}
		if !r.runStage(ctx, exec, doc, st) {
			return
		}
	}
}

// memoryGate decides the one conditional edge of the machine. A probe
// failure counts as insufficient headroom: without a reading the gate
// cannot admit the document.
func (r *Runner) memoryGate(ctx context.Context, doc Document, st *State, logger *slog.Logger) bool {
	snapshot, err := r.monitor.Available(ctx)
	st.Memory = snapshot
	floor := r.cfg.Resources.MinAvailableMemoryMB
	if err == nil && float64(snapshot.AvailableMB) >= floor {
		r.advance(st, PhaseParse, logger)
		r.publish(doc, st)
		logger.Debug("memory gate passed",
			logging.Int64("available_mb", snapshot.AvailableMB),
			logging.Float64("floor_mb", floor))
		return true
	}
	if err == nil {
		err = services.Wrap(services.ErrResourceInsufficient, string(StageMemoryCheck), "memory gate",
			fmt.Sprintf("%d MB available, %.0f MB required", snapshot.AvailableMB, floor), nil)
	}
	st.RecordError(StageMemoryCheck, err)
	r.advance(st, PhaseAborted, logger)
	r.publish(doc, st)
	logger.Warn("document aborted before processing", logging.Error(err))
	return false
}

// runStage executes one stage to completion, retrying retryable failures
// with a doubling backoff until the retry budget is spent. It returns false
// once the document has reached a terminal phase.
func (r *Runner) runStage(parent context.Context, exec Executor, doc Document, st *State) bool {
	stage := exec.Stage()
	st.RetryCount = 0

	for {
		attemptCtx := services.WithStage(parent, string(stage))
		attemptCtx = services.WithRequestID(attemptCtx, uuid.NewString())
		attemptLogger := logging.WithContext(attemptCtx, r.logger)

		st.StageStatuses[stage] = StatusRunning
		attemptLogger.Info("stage started", logging.Int("attempt", st.RetryCount+1))

		started := time.Now()
		execCtx, cancel := context.WithTimeout(context.WithoutCancel(attemptCtx), r.cfg.StageTimeout(string(stage)))
		err := exec.Run(execCtx, doc, st)
		cancel()
		elapsed := time.Since(started)
		r.metrics.ObserveStage(string(stage), elapsed)

		if err == nil {
			st.StageStatuses[stage] = StatusCompleted
			st.Progress += stageProgressShare
			r.advance(st, successorPhase(stage), attemptLogger)
			r.publish(doc, st)
			attemptLogger.Info("stage completed", logging.Duration("stage_duration", elapsed))
			return true
		}

		st.RecordError(stage, err)
		st.StageStatuses[stage] = StatusFailed

		if services.Retryable(err) && st.RetryCount < st.MaxRetries {
			st.RetryCount++
			r.publish(doc, st)
			delay := r.backoffDelay(st.RetryCount)
			attemptLogger.Warn("stage failed, will retry",
				logging.Error(err),
				logging.Int("retry", st.RetryCount),
				logging.Int("max_retries", st.MaxRetries),
				logging.Duration("backoff", delay))
			if !r.pause(parent, delay) {
				r.advance(st, PhaseCancelled, attemptLogger)
				r.publish(doc, st)
				attemptLogger.Debug("document interrupted during retry backoff")
				return false
			}
			r.metrics.RecordRetry(string(stage))
			continue
		}

		r.advance(st, PhaseFailed, attemptLogger)
		r.publish(doc, st)
		attemptLogger.Error("stage failed",
			logging.Error(err),
			logging.Int("attempts", st.RetryCount+1),
			logging.Duration("stage_duration", elapsed))
		return false
	}
}

func (r *Runner) advance(st *State, next Phase, logger *slog.Logger) {
	if err := st.Advance(next); err != nil {
		logger.Error("phase transition rejected", logging.Error(err))
	}
}

func (r *Runner) publish(doc Document, st *State) {
	if r.bus != nil {
		r.bus.Publish(events.NewDocumentProgress(st.ProgressPayload(doc)))
	}
	if r.record != nil {
		r.record(doc, st)
	}
}

// backoffDelay returns the wait before the numbered retry, doubling from
// the configured base.
func (r *Runner) backoffDelay(retry int) time.Duration {
	base := r.cfg.RetryBackoff()
	if base <= 0 || retry < 1 {
		return 0
	}
	return base << (retry - 1)
}

// pause waits out the backoff, returning false when cancellation arrives
// first.
func (r *Runner) pause(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
