package batch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"pulp/internal/catalog"
	"pulp/internal/config"
	"pulp/internal/events"
	"pulp/internal/logging"
	"pulp/internal/metrics"
	"pulp/internal/notifications"
	"pulp/internal/pipeline"
	"pulp/internal/services"
)

// Runner executes one document to a terminal phase. Implemented by
// pipeline.Runner; tests substitute scripted fakes.
type Runner interface {
	Run(ctx context.Context, doc pipeline.Document) *pipeline.State
}

// Options adjusts how a submitted batch is recorded.
type Options struct {
	// DisplayNames overrides the derived display name for specific source
	// paths. Keys are the paths passed to Submit; uploads spooled to
	// temporary files use this to keep their original names in history.
	DisplayNames map[string]string
}

// Receipt acknowledges an admitted batch.
type Receipt struct {
	BatchID   string
	Total     int
	CreatedAt time.Time
}

// Snapshot is a point-in-time view of one in-flight batch.
type Snapshot struct {
	BatchID    string
	Total      int
	Successful int
	Failed     int
	CreatedAt  time.Time
}

// Coordinator fans batches out over a shared worker pool. One coordinator
// serves the whole daemon; its pool size bounds how many documents process
// concurrently across all batches.
type Coordinator struct {
	cfg      *config.Config
	runner   Runner
	store    *catalog.Store
	bus      *events.Bus
	metrics  *metrics.Metrics
	notifier notifications.Service
	logger   *slog.Logger
	pool     *ants.Pool

	mu       sync.Mutex
	runs     map[string]*run
	stopping bool
	wg       sync.WaitGroup
}

// run tracks one batch from admission to its batch_complete event.
type run struct {
	id        string
	docs      []pipeline.Document
	total     int
	createdAt time.Time
	ctx       context.Context
	cancel    context.CancelFunc

	mu         sync.Mutex
	successful int
	failed     int
}

func (r *run) tally(succeeded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if succeeded {
		r.successful++
	} else {
		r.failed++
	}
}

func (r *run) counters() (successful, failed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.successful, r.failed
}

// New constructs a coordinator with a worker pool sized by the configured
// pipeline concurrency. The catalog store, bus, metrics, and notifier may
// be nil; persistence and observability are best effort.
func New(cfg *config.Config, runner Runner, store *catalog.Store, bus *events.Bus, m *metrics.Metrics, notifier notifications.Service, logger *slog.Logger) (*Coordinator, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "batch coordinator", "config is required", nil)
	}
	if runner == nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "batch coordinator", "runner is required", nil)
	}

	size := cfg.Pipeline.Concurrency
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "", "batch coordinator",
			fmt.Sprintf("create worker pool (size %d)", size), err)
	}

	return &Coordinator{
		cfg:      cfg,
		runner:   runner,
		store:    store,
		bus:      bus,
		metrics:  m,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "batch"),
		pool:     pool,
		runs:     make(map[string]*run),
	}, nil
}

// Submit validates the source paths, records the batch, and launches its
// run. The returned receipt only acknowledges admission; progress flows
// through the event bus and the catalog.
//
// The batch runs under its own context derived from ctx's values, so a
// short-lived request context does not cancel the work it admitted.
func (c *Coordinator) Submit(ctx context.Context, paths []string, opts Options) (*Receipt, error) {
	docs, err := c.buildDocuments(paths, opts)
	if err != nil {
		return nil, err
	}

	batchID := uuid.NewString()
	for i := range docs {
		docs[i].BatchID = batchID
	}

	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		return nil, services.Wrap(services.ErrUnavailable, "", "submit batch", "coordinator is stopping", nil)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runCtx = services.WithBatchID(runCtx, batchID)
	r := &run{
		id:        batchID,
		docs:      docs,
		total:     len(docs),
		createdAt: time.Now().UTC(),
		ctx:       runCtx,
		cancel:    cancel,
	}
	c.runs[batchID] = r
	c.wg.Add(1)
	c.mu.Unlock()

	c.recordBatch(runCtx, r)
	go c.runBatch(r)

	return &Receipt{BatchID: batchID, Total: r.total, CreatedAt: r.createdAt}, nil
}

// buildDocuments validates every path up front so a batch is admitted
// whole or not at all.
func (c *Coordinator) buildDocuments(paths []string, opts Options) ([]pipeline.Document, error) {
	if len(paths) == 0 {
		return nil, services.Wrap(services.ErrValidation, "", "submit batch", "no documents given", nil)
	}

	docs := make([]pipeline.Document, 0, len(paths))
	for i, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" {
			return nil, services.Wrap(services.ErrValidation, "", "submit batch",
				fmt.Sprintf("document %d has an empty path", i+1), nil)
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, services.Wrap(services.ErrValidation, "", "submit batch",
				fmt.Sprintf("document %q is not readable", path), err)
		}
		if info.IsDir() {
			return nil, services.Wrap(services.ErrValidation, "", "submit batch",
				fmt.Sprintf("document %q is a directory", path), nil)
		}

		display := filepath.Base(path)
		if name, ok := opts.DisplayNames[raw]; ok && strings.TrimSpace(name) != "" {
			display = strings.TrimSpace(name)
		}
		docs = append(docs, pipeline.Document{
			ID:          uuid.NewString(),
			BatchIndex:  i + 1,
			SourcePath:  path,
			DisplayName: display,
		})
	}
	return docs, nil
}

func (c *Coordinator) recordBatch(ctx context.Context, r *run) {
	if c.store == nil {
		return
	}
	rows := make([]catalog.Document, 0, len(r.docs))
	for _, doc := range r.docs {
		rows = append(rows, catalog.Document{
			ID:          doc.ID,
			BatchID:     doc.BatchID,
			BatchIndex:  doc.BatchIndex,
			SourcePath:  doc.SourcePath,
			DisplayName: doc.DisplayName,
		})
	}
	if _, err := c.store.CreateBatch(ctx, r.id, rows); err != nil {
		c.logger.Warn("failed to record batch in catalog",
			logging.String(logging.FieldBatchID, r.id),
			logging.Error(err))
	}
}

// runBatch owns the batch from batch_start to batch_complete. The closing
// event is published from a defer so every exit path, cancellation
// included, emits it exactly once.
func (c *Coordinator) runBatch(r *run) {
	defer c.wg.Done()

	start := time.Now()
	c.metrics.BatchStarted()
	if c.bus != nil {
		c.bus.Publish(events.NewBatchStart(r.id, r.total))
	}
	c.logger.Info("batch started",
		logging.String(logging.FieldBatchID, r.id),
		logging.Int("total", r.total))

	defer c.finishBatch(r, start)

	var docWG sync.WaitGroup
	for _, doc := range r.docs {
		doc := doc
		docWG.Add(1)
		err := c.pool.Submit(func() {
			defer docWG.Done()
			c.runDocument(r, doc)
		})
		if err != nil {
			// Pool shut down mid-batch. The document never ran; close it
			// out as cancelled so the tallies still cover the whole batch.
			docWG.Done()
			c.closeUnrun(r, doc, err)
		}
	}
	docWG.Wait()
}

func (c *Coordinator) runDocument(r *run, doc pipeline.Document) {
	if c.store != nil {
		if err := c.store.MarkDocumentRunning(context.WithoutCancel(r.ctx), doc.ID); err != nil {
			c.logger.Warn("failed to mark document running",
				logging.String(logging.FieldDocumentID, doc.ID),
				logging.Error(err))
		}
	}

	st := c.runner.Run(r.ctx, doc)
	if st == nil {
		st = pipeline.NewState(0)
		_ = st.Advance(pipeline.PhaseCancelled)
	}

	r.tally(st.Succeeded())
	c.recordOutcome(r, doc, st)

	if !st.Succeeded() && st.Phase != pipeline.PhaseCancelled && c.notifier != nil {
		_ = c.notifier.Publish(context.WithoutCancel(r.ctx), notifications.EventDocumentFailed, notifications.Payload{
			"document": doc.DisplayName,
			"stage":    lastErrorStage(st),
			"error":    st.LastError(),
		})
	}
}

// closeUnrun settles a document the pool refused to take.
func (c *Coordinator) closeUnrun(r *run, doc pipeline.Document, cause error) {
	c.logger.Warn("worker pool rejected document",
		logging.String(logging.FieldDocumentID, doc.ID),
		logging.Error(cause))

	st := pipeline.NewState(0)
	st.RecordError(pipeline.StageMemoryCheck, services.Wrap(services.ErrUnavailable, "", "submit document", "worker pool unavailable", cause))
	_ = st.Advance(pipeline.PhaseCancelled)

	r.tally(false)
	c.recordOutcome(r, doc, st)
}

func (c *Coordinator) recordOutcome(r *run, doc pipeline.Document, st *pipeline.State) {
	if c.store == nil {
		return
	}
	row := SnapshotRow(doc, st)
	if err := c.store.RecordOutcome(context.WithoutCancel(r.ctx), row); err != nil {
		c.logger.Warn("failed to record document outcome",
			logging.String(logging.FieldDocumentID, doc.ID),
			logging.Error(err))
	}
}

func (c *Coordinator) finishBatch(r *run, start time.Time) {
	successful, failed := r.counters()
	// Values survive cancel so catalog and notifier calls still carry the
	// batch ID after Cancel or Stop.
	ctx := context.WithoutCancel(r.ctx)

	if c.bus != nil {
		c.bus.Publish(events.NewBatchComplete(r.id, successful, failed, r.total))
	}
	if c.store != nil {
		if _, err := c.store.CompleteBatch(ctx, r.id, successful, failed); err != nil {
			c.logger.Warn("failed to close batch in catalog",
				logging.String(logging.FieldBatchID, r.id),
				logging.Error(err))
		}
	}
	c.metrics.BatchFinished()

	elapsed := time.Since(start)
	c.logger.Info("batch complete",
		logging.String(logging.FieldBatchID, r.id),
		logging.Int("successful", successful),
		logging.Int("failed", failed),
		logging.Int("total", r.total),
		logging.Duration("elapsed", elapsed))

	if c.notifier != nil {
		_ = c.notifier.Publish(ctx, notifications.EventBatchCompleted, notifications.Payload{
			"batch_id":   r.id,
			"successful": successful,
			"failed":     failed,
			"duration":   elapsed,
		})
	}

	c.mu.Lock()
	delete(c.runs, r.id)
	c.mu.Unlock()
	r.cancel()
}

// Cancel aborts one in-flight batch. Running stages finish their bounded
// work; queued documents terminate as cancelled. The batch still closes
// with a batch_complete event covering every document.
func (c *Coordinator) Cancel(batchID string) error {
	c.mu.Lock()
	r, ok := c.runs[batchID]
	c.mu.Unlock()
	if !ok {
		return services.Wrap(services.ErrNotFound, "", "cancel batch",
			fmt.Sprintf("batch %s is not in flight", batchID), nil)
	}
	c.logger.Info("cancelling batch", logging.String(logging.FieldBatchID, batchID))
	r.cancel()
	return nil
}

// Status reports the in-flight batches ordered by admission time.
func (c *Coordinator) Status() []Snapshot {
	c.mu.Lock()
	runs := make([]*run, 0, len(c.runs))
	for _, r := range c.runs {
		runs = append(runs, r)
	}
	c.mu.Unlock()

	snapshots := make([]Snapshot, 0, len(runs))
	for _, r := range runs {
		successful, failed := r.counters()
		snapshots = append(snapshots, Snapshot{
			BatchID:    r.id,
			Total:      r.total,
			Successful: successful,
			Failed:     failed,
			CreatedAt:  r.createdAt,
		})
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots
}

// Active reports how many batches are currently in flight.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.runs)
}

// Stop rejects further submissions, cancels every in-flight batch, and
// waits for their closing events before releasing the pool. Safe to call
// more than once.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.stopping {
		c.mu.Unlock()
		c.wg.Wait()
		return
	}
	c.stopping = true
	for _, r := range c.runs {
		r.cancel()
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.pool.Release()
}

// SnapshotRow converts a pipeline state into its catalog row. In-flight
// documents map to the running status; terminal ones to their outcome. The
// daemon also uses this to mirror progress snapshots into the catalog.
func SnapshotRow(doc pipeline.Document, st *pipeline.State) *catalog.Document {
	statuses := make(map[string]string, len(st.StageStatuses))
	for stage, status := range st.StageStatuses {
		statuses[string(stage)] = string(status)
	}
	status := catalog.DocumentRunning
	if outcome := st.Outcome(); outcome != "" {
		status = catalog.DocumentStatus(outcome)
	}
	return &catalog.Document{
		ID:            doc.ID,
		BatchID:       doc.BatchID,
		BatchIndex:    doc.BatchIndex,
		SourcePath:    doc.SourcePath,
		DisplayName:   doc.DisplayName,
		Status:        status,
		Progress:      st.Progress,
		StageStatuses: statuses,
		ErrorMessage:  st.LastError(),
		ChunkCount:    len(st.Chunks),
		VectorCount:   len(st.VectorIDs),
		EntityCount:   len(st.EntityIDs),
		RelationCount: len(st.RelationIDs),
	}
}

func lastErrorStage(st *pipeline.State) string {
	if len(st.Errors) == 0 {
		return ""
	}
	return string(st.Errors[len(st.Errors)-1].Stage)
}
