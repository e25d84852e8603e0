package daemon

import (
	"context"
	"net/http"
	"os"

	"pulp/internal/api"
	"pulp/internal/deps"
	"pulp/internal/logging"
)

// Status aggregates runtime information across the daemon's services.
// When the daemon is stopped only the static fields and dependency
// checks are populated.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Version:      d.version,
		CatalogPath:  d.cfg.CatalogPath(),
		LockFilePath: d.lockPath,
		Dependencies: api.FromDependencyStatuses(deps.Check(d.cfg)),
	}
	if !status.Running {
		return status
	}

	status.StartedAt = api.FormatTime(d.startedAt)
	status.Pipeline = api.PipelineStatus{
		Running:       true,
		Concurrency:   d.cfg.Pipeline.Concurrency,
		ActiveBatches: api.FromSnapshots(d.coordinator.Status()),
	}

	if stats, err := d.history.Stats(ctx); err != nil {
		d.logger.Warn("failed to collect catalog stats", logging.Error(err))
	} else {
		status.Pipeline.CatalogStats = stats
	}

	status.Backends = api.FromBackendStatuses(d.backends.Status())

	if snapshot, err := d.monitor.Available(ctx); err != nil {
		d.logger.Warn("memory probe failed", logging.Error(err))
	} else {
		status.Memory = api.FromMemorySnapshot(snapshot)
	}

	return status
}

// MetricsHandler exposes the prometheus registry for the HTTP API.
func (d *Daemon) MetricsHandler() http.Handler {
	if m := d.metrics; m != nil {
		return m.Handler()
	}
	return http.NotFoundHandler()
}
