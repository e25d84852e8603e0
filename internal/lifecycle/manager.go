package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"pulp/internal/logging"
	"pulp/internal/metrics"
	"pulp/internal/services"
)

const (
	defaultStartupTimeout = 2 * time.Minute
	defaultPollInterval   = 500 * time.Millisecond
	defaultStopTimeout    = 30 * time.Second
	healthProbeTimeout    = 5 * time.Second
)

// Backend is a long-running dependency the manager supervises: launched
// on first demand, health-polled until ready, and stopped when the last
// holder releases it.
type Backend interface {
	Name() string
	Start(ctx context.Context) error
	Health(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Options tune supervision for one backend.
type Options struct {
	// StartupTimeout bounds launch plus readiness polling.
	StartupTimeout time.Duration
	// HealthPollInterval is the readiness probe spacing.
	HealthPollInterval time.Duration
	// KeepaliveGrace delays the stop after the last release, so
	// back-to-back documents reuse a warm backend.
	KeepaliveGrace time.Duration
}

// Status describes one supervised backend.
type Status struct {
	Name      string    `json:"name"`
	Phase     string    `json:"phase"`
	Refs      int       `json:"refs"`
	Starts    int       `json:"starts"`
	Since     time.Time `json:"since,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}

const (
	phaseStopped  = "stopped"
	phaseStarting = "starting"
	phaseReady    = "ready"
	phaseStopping = "stopping"
)

type launchState struct {
	done   chan struct{}
	cancel context.CancelFunc
	ctx    context.Context
	err    error
}

type entry struct {
	backend Backend
	opts    Options

	mu         sync.Mutex
	phase      string
	refs       int
	starts     int
	readySince time.Time
	lastErr    error
	launch     *launchState
	stopping   chan struct{}
	stopTimer  *time.Timer
}

// Manager supervises registered backends. Acquire and Release are safe
// for concurrent use; operations on distinct backends never block each
// other.
type Manager struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	entries map[string]*entry
}

// NewManager builds an empty manager.
func NewManager(logger *slog.Logger, m *metrics.Metrics) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		logger:  logging.NewComponentLogger(logger, "lifecycle"),
		metrics: m,
		entries: make(map[string]*entry),
	}
}

// Register adds a backend under its own name. Registering the same name
// twice is a configuration error.
func (m *Manager) Register(backend Backend, opts Options) error {
	if backend == nil {
		return services.Wrap(services.ErrConfiguration, "", "register backend", "nil backend", nil)
	}
	if opts.StartupTimeout <= 0 {
		opts.StartupTimeout = defaultStartupTimeout
	}
	if opts.HealthPollInterval <= 0 {
		opts.HealthPollInterval = defaultPollInterval
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	name := backend.Name()
	if _, exists := m.entries[name]; exists {
		return services.Wrap(services.ErrConfiguration, "", "register backend",
			fmt.Sprintf("backend %q already registered", name), nil)
	}
	m.entries[name] = &entry{backend: backend, opts: opts, phase: phaseStopped}
	return nil
}

// Acquire takes a reference on the named backend, launching it if
// necessary and waiting until it reports healthy. An already-running
// backend is health-checked once more: a failed probe relaunches it when
// no other holder remains, otherwise the probe error is returned.
// Concurrent acquires during a launch share that single launch and its
// outcome. Cancelling ctx abandons this caller's wait without aborting
// the launch other waiters depend on.
func (m *Manager) Acquire(ctx context.Context, name string) error {
	e, err := m.lookup(name)
	if err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.mu.Lock()
		if e.stopTimer != nil {
			e.stopTimer.Stop()
			e.stopTimer = nil
		}
		switch e.phase {
		case phaseReady:
			e.refs++
			e.mu.Unlock()
			probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
			healthErr := e.backend.Health(probeCtx)
			cancel()
			if healthErr == nil {
				return nil
			}
			e.mu.Lock()
			if e.refs > 0 {
				e.refs--
			}
			if err := ctx.Err(); err != nil {
				e.mu.Unlock()
				return err
			}
			e.lastErr = healthErr
			restarting := e.phase == phaseReady && e.refs == 0
			if restarting {
				m.beginStopLocked(e)
			}
			e.mu.Unlock()
			if !restarting {
				return services.Wrap(services.ErrUnavailable, "", "acquire backend",
					fmt.Sprintf("backend %q failed health re-check", name), healthErr)
			}
			m.logger.Warn("backend failed health re-check, restarting",
				logging.String("backend", name),
				logging.Error(healthErr))
		case phaseStarting:
			launch := e.launch
			e.mu.Unlock()
			if launch == nil {
				continue
			}
			select {
			case <-launch.done:
				if launch.err != nil {
					return launch.err
				}
			case <-ctx.Done():
				return ctx.Err()
			}
		case phaseStopping:
			stopping := e.stopping
			e.mu.Unlock()
			if stopping == nil {
				continue
			}
			select {
			case <-stopping:
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			launchCtx, cancel := context.WithTimeout(context.Background(), e.opts.StartupTimeout)
			launch := &launchState{done: make(chan struct{}), ctx: launchCtx, cancel: cancel}
			e.launch = launch
			e.phase = phaseStarting
			e.starts++
			e.mu.Unlock()
			m.metrics.RecordBackendStart(name)
			m.logger.Info("launching backend", logging.String("backend", name))
			go m.runLaunch(e, launch)
		}
	}
}

// runLaunch starts the backend and polls health until ready, a failure,
// or the startup deadline. It owns the transition out of "starting".
func (m *Manager) runLaunch(e *entry, launch *launchState) {
	defer launch.cancel()
	name := e.backend.Name()

	started := false
	err := e.backend.Start(launch.ctx)
	if err != nil {
		err = services.Wrap(services.ErrUnavailable, "", "start backend",
			fmt.Sprintf("backend %q failed to start", name), err)
	} else {
		started = true
		err = m.awaitReady(launch.ctx, e)
	}

	if err != nil && started {
		stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
		if stopErr := e.backend.Stop(stopCtx); stopErr != nil {
			m.logger.Warn("cleanup stop failed after unsuccessful launch",
				logging.String("backend", name),
				logging.Error(stopErr))
		}
		cancel()
	}

	e.mu.Lock()
	if err != nil {
		e.phase = phaseStopped
		e.lastErr = err
		m.logger.Warn("backend launch failed",
			logging.String("backend", name),
			logging.Error(err))
	} else {
		e.phase = phaseReady
		e.readySince = time.Now().UTC()
		e.lastErr = nil
		m.logger.Info("backend ready", logging.String("backend", name))
	}
	launch.err = err
	e.launch = nil
	e.mu.Unlock()
	close(launch.done)
}

func (m *Manager) awaitReady(ctx context.Context, e *entry) error {
	name := e.backend.Name()
	var lastHealth error
	for {
		probeCtx, cancel := context.WithTimeout(ctx, healthProbeTimeout)
		lastHealth = e.backend.Health(probeCtx)
		cancel()
		if lastHealth == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			detail := fmt.Sprintf("backend %q not ready after %s", name, e.opts.StartupTimeout)
			if ctx.Err() == context.Canceled {
				return services.Wrap(services.ErrCancelled, "", "start backend", "", ctx.Err())
			}
			return services.Wrap(services.ErrStartupTimeout, "", "start backend", detail, lastHealth)
		case <-time.After(e.opts.HealthPollInterval):
		}
	}
}

// Release drops one reference. When the last reference goes away the
// backend is stopped, after the keepalive grace when one is configured.
func (m *Manager) Release(name string) {
	e, err := m.lookup(name)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.refs > 0 {
		e.refs--
	}
	if e.refs > 0 || e.phase != phaseReady {
		return
	}
	grace := e.opts.KeepaliveGrace
	if grace <= 0 {
		m.beginStopLocked(e)
		return
	}
	generation := e.starts
	e.stopTimer = time.AfterFunc(grace, func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.refs == 0 && e.phase == phaseReady && e.starts == generation {
			m.beginStopLocked(e)
		}
	})
}

// beginStopLocked transitions to "stopping" and stops the backend in the
// background. Callers hold e.mu.
func (m *Manager) beginStopLocked(e *entry) {
	e.phase = phaseStopping
	stopping := make(chan struct{})
	e.stopping = stopping
	name := e.backend.Name()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
		defer cancel()
		if err := e.backend.Stop(ctx); err != nil {
			m.logger.Warn("backend stop failed",
				logging.String("backend", name),
				logging.Error(err))
		} else {
			m.logger.Info("backend stopped", logging.String("backend", name))
		}
		e.mu.Lock()
		e.phase = phaseStopped
		e.stopping = nil
		e.readySince = time.Time{}
		e.mu.Unlock()
		close(stopping)
	}()
}

// StopAll force-stops every backend regardless of reference counts. It
// returns when all backends are down or ctx is done.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, e := range entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			m.shutdownEntry(ctx, e)
		}(e)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

func (m *Manager) shutdownEntry(ctx context.Context, e *entry) {
	for {
		e.mu.Lock()
		e.refs = 0
		if e.stopTimer != nil {
			e.stopTimer.Stop()
			e.stopTimer = nil
		}
		switch e.phase {
		case phaseStopped:
			e.mu.Unlock()
			return
		case phaseStarting:
			launch := e.launch
			e.mu.Unlock()
			if launch == nil {
				continue
			}
			launch.cancel()
			select {
			case <-launch.done:
			case <-ctx.Done():
				return
			}
		case phaseStopping:
			stopping := e.stopping
			e.mu.Unlock()
			if stopping == nil {
				continue
			}
			select {
			case <-stopping:
			case <-ctx.Done():
			}
			return
		default:
			m.beginStopLocked(e)
			stopping := e.stopping
			e.mu.Unlock()
			select {
			case <-stopping:
			case <-ctx.Done():
			}
			return
		}
	}
}

// Status reports every backend, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.Lock()
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		status := Status{
			Name:   e.backend.Name(),
			Phase:  e.phase,
			Refs:   e.refs,
			Starts: e.starts,
			Since:  e.readySince,
		}
		if e.lastErr != nil {
			status.LastError = e.lastErr.Error()
		}
		e.mu.Unlock()
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

func (m *Manager) lookup(name string) (*entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[name]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "", "acquire backend",
			fmt.Sprintf("unknown backend %q", name), nil)
	}
	return e, nil
}
