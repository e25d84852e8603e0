// Package daemonrun hosts the pulpd process loop shared by the pulpd
// binary and the pulp CLI's foreground run command.
package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"pulp/internal/config"
	"pulp/internal/daemon"
	"pulp/internal/deps"
	"pulp/internal/logging"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run starts the pulp daemon and blocks until a termination signal
// arrives or a shutdown is requested over IPC.
func Run(cmdCtx context.Context, cfg *config.Config, version string, opts Options) error {
	if cfg == nil {
		return errors.New("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		cfg.Logging.Level = level
	}
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)

	d, err := daemon.New(cfg, version, logger)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed", logging.Error(err))
		return err
	}

	pidPath := cfg.PIDPath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write pid file",
			logging.String("path", pidPath),
			logging.Error(err))
	} else {
		defer os.Remove(pidPath)
	}

	select {
	case <-signalCtx.Done():
		logger.Info("termination signal received")
	case <-d.ShutdownRequested():
		logger.Info("shutdown requested over ipc")
	}

	d.Stop()
	return nil
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	for _, status := range deps.Check(cfg) {
		attrs := []any{
			logging.String("dependency", status.Name),
			logging.String("target", status.Target),
			logging.Bool("available", status.Available),
		}
		if status.Detail != "" {
			attrs = append(attrs, logging.String("detail", status.Detail))
		}
		if status.Available || status.Optional {
			logger.Debug("dependency check", attrs...)
		} else {
			logger.Warn("dependency unavailable", attrs...)
		}
	}
}
