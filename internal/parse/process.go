package parse

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"pulp/internal/config"
	"pulp/internal/logging"
)

// Process manages the parser backend as a child process. When no command
// is configured it degrades to health-checking an externally managed
// backend at the same base URL.
type Process struct {
	cfg    config.Parser
	logger *slog.Logger
	client *Client

	mu     sync.Mutex
	cmd    *exec.Cmd
	waitCh chan error
}

// NewProcess builds the parser backend adapter.
func NewProcess(cfg config.Parser, client *Client, logger *slog.Logger) *Process {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Process{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "parser-proc"),
		client: client,
	}
}

// Name identifies the backend to the lifecycle manager.
func (p *Process) Name() string { return "parser" }

// Start launches the configured command. It returns once the process is
// spawned; readiness is established separately through Health polling.
// Without a configured command Start is a no-op.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cfg.Command == "" {
		p.logger.Debug("no parser command configured, expecting external backend",
			logging.String("base_url", p.cfg.BaseURL))
		return nil
	}
	if p.cmd != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	cmd := exec.Command(p.cfg.Command, p.cfg.Args...)
	// Own process group, so Stop can reap children the parser forks.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("parser stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("parser stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start parser %q: %w", p.cfg.Command, err)
	}
	p.logger.Info("parser backend launched",
		logging.String("command", p.cfg.Command),
		logging.Int("pid", cmd.Process.Pid))

	go p.forwardOutput(stdout, "stdout")
	go p.forwardOutput(stderr, "stderr")

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		waitCh <- err
		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
			p.waitCh = nil
		}
		p.mu.Unlock()
		if err != nil {
			p.logger.Warn("parser backend exited", logging.Error(err))
		} else {
			p.logger.Info("parser backend exited")
		}
	}()

	p.cmd = cmd
	p.waitCh = waitCh
	return nil
}

// Health asks the backend's health endpoint whether it is ready to serve.
func (p *Process) Health(ctx context.Context) error {
	return p.client.Health(ctx)
}

// Stop terminates the managed process group with SIGTERM, escalating to
// SIGKILL after the configured grace period. Stopping an externally
// managed backend is a no-op.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	cmd := p.cmd
	waitCh := p.waitCh
	p.cmd = nil
	p.waitCh = nil
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pgid := -cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		p.logger.Debug("sigterm failed, killing parser group", logging.Error(err))
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	}

	grace := time.Duration(p.cfg.StopGraceSeconds) * time.Second
	if grace <= 0 {
		grace = 10 * time.Second
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-waitCh:
		return nil
	case <-timer.C:
		p.logger.Warn("parser ignored sigterm, killing",
			logging.Duration("grace", grace))
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	case <-ctx.Done():
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	}

	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
	}
	return nil
}

// Running reports whether a managed child process is alive.
func (p *Process) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

func (p *Process) forwardOutput(r io.Reader, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.logger.Debug("parser output",
			logging.String("stream", stream),
			logging.String("line", line))
	}
}
