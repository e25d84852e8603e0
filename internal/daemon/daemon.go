package daemon

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"log/slog"

	"github.com/gofrs/flock"

	"pulp/internal/api"
	"pulp/internal/batch"
	"pulp/internal/catalog"
	"pulp/internal/chunking"
	"pulp/internal/config"
	"pulp/internal/embed"
	"pulp/internal/events"
	"pulp/internal/graph"
	"pulp/internal/httpapi"
	"pulp/internal/ipc"
	"pulp/internal/lifecycle"
	"pulp/internal/logging"
	"pulp/internal/metrics"
	"pulp/internal/notifications"
	"pulp/internal/parse"
	"pulp/internal/pipeline"
	"pulp/internal/resource"
	"pulp/internal/vector"
)

// Daemon owns every long-lived service of the pulp process and enforces
// single-instance execution via a file lock. Start builds the services in
// dependency order; Stop tears them down in reverse.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	version string

	lock     *flock.Flock
	lockPath string

	running   atomic.Bool
	startedAt time.Time

	shutdownOnce sync.Once
	shutdownCh   chan struct{}

	store       *catalog.Store
	metrics     *metrics.Metrics
	bus         *events.Bus
	monitor     resource.Monitor
	backends    *lifecycle.Manager
	vectors     vector.Store
	graphs      graph.Store
	coordinator *batch.Coordinator
	history     *api.HistoryService
	notifier    notifications.Service
	ipcServer   *ipc.Server
	httpServer  *httpapi.Server

	ctx    context.Context
	cancel context.CancelFunc
}

// New prepares a daemon; no resources are acquired until Start.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	lockPath := cfg.LockPath()
	return &Daemon{
		cfg:        cfg,
		logger:     logger,
		version:    version,
		lock:       flock.New(lockPath),
		lockPath:   lockPath,
		shutdownCh: make(chan struct{}),
	}, nil
}

// Start acquires the instance lock and builds the processing services:
// catalog, metrics, event bus, memory monitor, backends, lifecycle
// supervision, the batch coordinator, and the IPC and HTTP control
// surfaces. Documents left in-flight by a previous process are closed as
// failed before new work is accepted.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := d.cfg.EnsureDirectories(); err != nil {
		return err
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another pulp daemon instance is already running")
	}

	if err := d.buildServices(ctx); err != nil {
		d.teardown()
		_ = d.lock.Unlock()
		return err
	}

	d.startedAt = time.Now().UTC()
	d.running.Store(true)
	d.logger.Info("pulp daemon started",
		logging.String("lock", d.lockPath),
		logging.String("socket", d.cfg.Paths.SocketPath),
		logging.String("version", d.version))
	if err := d.notifier.Publish(d.ctx, notifications.EventDaemonStarted, nil); err != nil {
		d.logger.Warn("daemon start notification failed", logging.Error(err))
	}
	return nil
}

func (d *Daemon) buildServices(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)

	store, err := catalog.Open(d.cfg.CatalogPath())
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	d.store = store

	interrupted, err := store.FailInterrupted(d.ctx)
	if err != nil {
		return fmt.Errorf("close interrupted documents: %w", err)
	}
	if interrupted > 0 {
		d.logger.Warn("closed documents interrupted by previous shutdown",
			logging.Int64("document_count", interrupted))
	}

	d.metrics = metrics.New()

	d.bus = events.NewBus(d.cfg.Events.BufferSize, d.cfg.Events.SubscriberBuffer, d.logger)
	d.metrics.RegisterEventBus(d.bus)

	monitor := resource.NewMonitor(d.cfg, d.logger)
	d.monitor = monitor
	d.metrics.RegisterMemory(monitor)

	parseClient := parse.NewClient(d.cfg.Parser.BaseURL, nil)
	parserProcess := parse.NewProcess(d.cfg.Parser, parseClient, d.logger)

	embedder, err := embed.NewService(d.cfg.Embedding, d.logger)
	if err != nil {
		return fmt.Errorf("configure embedder: %w", err)
	}

	vectors, err := vector.Open(d.cfg.Paths.VectorDir, embedder, d.logger)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	d.vectors = vectors

	graphs, err := d.openGraphStore()
	if err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	d.graphs = graphs

	d.backends = lifecycle.NewManager(d.logger, d.metrics)
	if err := d.backends.Register(parserProcess, lifecycle.Options{
		StartupTimeout:     time.Duration(d.cfg.Parser.StartupTimeout) * time.Second,
		HealthPollInterval: time.Duration(d.cfg.Parser.HealthPollInterval) * time.Second,
		KeepaliveGrace:     time.Duration(d.cfg.Parser.KeepaliveSeconds) * time.Second,
	}); err != nil {
		return fmt.Errorf("register parser backend: %w", err)
	}

	splitter := chunking.NewSplitter(d.cfg.Chunking, d.logger)
	executors := pipeline.Executors(d.backends, parseClient, splitter, vectors, graphs, d.logger)
	runner := pipeline.NewRunner(d.cfg, monitor, executors, d.bus, d.metrics, d.logger)
	runner.SetRecorder(func(doc pipeline.Document, st *pipeline.State) {
		mirrorCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.UpdateDocument(mirrorCtx, batch.SnapshotRow(doc, st)); err != nil {
			d.logger.Debug("catalog progress mirror failed",
				logging.String(logging.FieldDocumentID, doc.ID),
				logging.Error(err))
		}
	})

	d.notifier = notifications.NewService(d.cfg)

	coordinator, err := batch.New(d.cfg, runner, store, d.bus, d.metrics, d.notifier, d.logger)
	if err != nil {
		return fmt.Errorf("build coordinator: %w", err)
	}
	d.coordinator = coordinator

	d.history = api.NewHistoryService(store)

	ipcServer, err := ipc.NewServer(d.ctx, d.cfg.Paths.SocketPath, d, d.logger)
	if err != nil {
		return fmt.Errorf("start ipc server: %w", err)
	}
	d.ipcServer = ipcServer
	ipcServer.Serve()

	if strings.TrimSpace(d.cfg.HTTP.Bind) != "" {
		httpServer, err := httpapi.NewServer(d.cfg, d, d.logger)
		if err != nil {
			return fmt.Errorf("build http server: %w", err)
		}
		d.httpServer = httpServer
		httpServer.Start()
	}

	return nil
}

func (d *Daemon) openGraphStore() (graph.Store, error) {
	switch strings.ToLower(strings.TrimSpace(d.cfg.Graph.Mode)) {
	case "", "inline":
		return graph.Open(d.cfg.Paths.GraphDir, d.logger)
	case "remote":
		if strings.TrimSpace(d.cfg.Graph.BaseURL) == "" {
			return nil, errors.New("graph mode remote requires base_url")
		}
		return graph.NewRemoteStore(d.cfg.Graph.BaseURL, nil), nil
	default:
		return nil, fmt.Errorf("graph mode: unsupported value %q", d.cfg.Graph.Mode)
	}
}

// Stop shuts the daemon down in reverse construction order: control
// surfaces first so no new work arrives, then the coordinator (waiting
// for in-flight documents), supervised backends, stores, and finally the
// instance lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	d.running.Store(false)

	if d.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := d.notifier.Publish(notifyCtx, notifications.EventDaemonStopped, nil); err != nil {
			d.logger.Warn("daemon stop notification failed", logging.Error(err))
		}
		cancel()
	}

	d.teardown()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("pulp daemon stopped")
}

func (d *Daemon) teardown() {
	if d.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		d.httpServer.Shutdown(shutdownCtx)
		cancel()
		d.httpServer = nil
	}
	if d.ipcServer != nil {
		d.ipcServer.Close()
		d.ipcServer = nil
	}
	if d.coordinator != nil {
		d.coordinator.Stop()
		d.coordinator = nil
	}
	if d.backends != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		d.backends.StopAll(stopCtx)
		cancel()
		d.backends = nil
	}
	if d.vectors != nil {
		if err := d.vectors.Close(); err != nil {
			d.logger.Warn("failed to close vector store", logging.Error(err))
		}
		d.vectors = nil
	}
	if d.graphs != nil {
		if err := d.graphs.Close(); err != nil {
			d.logger.Warn("failed to close graph store", logging.Error(err))
		}
		d.graphs = nil
	}
	if d.bus != nil {
		d.bus.Close()
		d.bus = nil
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn("failed to close catalog", logging.Error(err))
		}
		d.store = nil
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.ctx = nil
	d.history = nil
	d.monitor = nil
}

// Close stops the daemon and releases remaining resources.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// Running reports whether Start has completed and Stop has not.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Version returns the build version string the daemon was started with.
func (d *Daemon) Version() string {
	return d.version
}

// LogPath returns the daemon log file path, or "" when file logging is
// disabled.
func (d *Daemon) LogPath() string {
	return d.cfg.LogPath()
}

// RequestShutdown signals the hosting process to exit. Safe to call more
// than once.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() {
		close(d.shutdownCh)
	})
}

// ShutdownRequested returns a channel closed by the first RequestShutdown
// call.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdownCh
}

// Ingest admits the given paths as one batch and returns its receipt.
func (d *Daemon) Ingest(ctx context.Context, paths []string, displayNames map[string]string) (api.Receipt, error) {
	if !d.running.Load() {
		return api.Receipt{}, errors.New("daemon is not running")
	}
	receipt, err := d.coordinator.Submit(ctx, paths, batch.Options{DisplayNames: displayNames})
	if err != nil {
		return api.Receipt{}, err
	}
	return api.FromReceipt(receipt), nil
}

// CancelBatch aborts one in-flight batch.
func (d *Daemon) CancelBatch(batchID string) error {
	if !d.running.Load() {
		return errors.New("daemon is not running")
	}
	return d.coordinator.Cancel(batchID)
}

// Events returns a page of progress events at or after the cursor,
// blocking up to wait when the page would be empty.
func (d *Daemon) Events(ctx context.Context, since uint64, limit int, wait time.Duration) (api.EventPage, error) {
	if !d.running.Load() {
		return api.EventPage{}, errors.New("daemon is not running")
	}
	evts, next, err := d.bus.Fetch(ctx, since, limit, wait)
	if err != nil {
		return api.EventPage{NextCursor: next}, err
	}
	return api.EventPage{Events: evts, NextCursor: next, Dropped: d.bus.Dropped()}, nil
}

// Subscribe attaches a live event consumer, used by the HTTP stream.
func (d *Daemon) Subscribe(buffer int) *events.Subscription {
	if !d.running.Load() {
		return nil
	}
	return d.bus.Subscribe(buffer)
}

// ListBatches returns recorded batches, newest first.
func (d *Daemon) ListBatches(ctx context.Context, limit int) ([]api.Batch, error) {
	if !d.running.Load() {
		return nil, errors.New("daemon is not running")
	}
	return d.history.List(ctx, limit)
}

// DescribeBatch returns one batch with its documents, or nil when the
// batch is unknown.
func (d *Daemon) DescribeBatch(ctx context.Context, batchID string) (*api.BatchDetail, error) {
	if !d.running.Load() {
		return nil, errors.New("daemon is not running")
	}
	return d.history.Describe(ctx, batchID)
}

// ClearCompleted removes finished batches and their documents from the
// catalog.
func (d *Daemon) ClearCompleted(ctx context.Context) (int64, error) {
	if !d.running.Load() {
		return 0, errors.New("daemon is not running")
	}
	return d.store.ClearCompleted(ctx)
}

// TestNotification sends a test push through the configured notifier.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	notifier := d.notifier
	if notifier == nil {
		notifier = notifications.NewService(d.cfg)
	}
	if err := notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}
