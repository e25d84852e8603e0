package daemonctl_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"pulp/internal/daemon"
	"pulp/internal/daemonctl"
	"pulp/internal/logging"
	"pulp/internal/testsupport"
)

func TestProcessInfoWithoutDaemon(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "pulpd.sock")

	alive, pid, err := daemonctl.ProcessInfo(socket)
	if err != nil {
		t.Fatalf("ProcessInfo: %v", err)
	}
	if alive || pid != 0 {
		t.Fatalf("expected no daemon, got alive=%v pid=%d", alive, pid)
	}
}

func TestWaitForShutdownWithoutDaemon(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "pulpd.sock")

	if err := daemonctl.WaitForShutdown(socket, time.Second); err != nil {
		t.Fatalf("WaitForShutdown on absent socket: %v", err)
	}
}

func TestWaitForClientTimesOut(t *testing.T) {
	socket := filepath.Join(t.TempDir(), "pulpd.sock")

	start := time.Now()
	_, err := daemonctl.WaitForClient(socket, 300*time.Millisecond)
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(err.Error(), "daemon failed to start") {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 300*time.Millisecond {
		t.Fatalf("returned before deadline: %v", elapsed)
	}
}

func TestStopAndTerminateWithoutDaemon(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	_, err := daemonctl.StopAndTerminate(cfg.Paths.SocketPath, cfg, time.Second)
	if !errors.Is(err, daemonctl.ErrDaemonNotRunning) {
		t.Fatalf("expected ErrDaemonNotRunning, got %v", err)
	}
}

func TestForceKillProcessGuards(t *testing.T) {
	dir := t.TempDir()
	pidPath := filepath.Join(dir, "pulpd.pid")

	if _, err := daemonctl.ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected error without pid file or fallback")
	}

	if err := os.WriteFile(pidPath, []byte("not-a-number\n"), 0o644); err != nil {
		t.Fatalf("write pid file: %v", err)
	}
	if _, err := daemonctl.ForceKillProcess(pidPath, "", 0); err == nil {
		t.Fatal("expected error for unparseable pid file")
	}

	if _, err := daemonctl.ForceKillProcess(filepath.Join(dir, "missing.pid"), "", os.Getpid()); err == nil {
		t.Fatal("expected refusal to kill current process")
	}
}

func TestBuildStatusSnapshotOffline(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	store := testsupport.MustOpenCatalog(t, cfg)
	testsupport.SeedBatch(t, store, "batch-offline", 2)
	if err := store.Close(); err != nil {
		t.Fatalf("close catalog: %v", err)
	}

	status, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.Paths.SocketPath, cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if status.Running {
		t.Fatal("expected offline status")
	}
	if status.CatalogPath != cfg.CatalogPath() {
		t.Fatalf("unexpected catalog path %q", status.CatalogPath)
	}
	if len(status.Dependencies) == 0 {
		t.Fatal("expected dependency checks in offline snapshot")
	}
	if status.Pipeline.CatalogStats["pending"] != 2 {
		t.Fatalf("expected 2 pending documents in offline stats, got %#v", status.Pipeline.CatalogStats)
	}
}

func TestBuildStatusSnapshotOnline(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.HTTP.Bind = ""

	d, err := daemon.New(cfg, "snapshot-test", logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := d.Start(context.Background()); err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skipf("skipping daemon test: %v", err)
		}
		t.Fatalf("daemon.Start: %v", err)
	}

	alive, pid, err := daemonctl.ProcessInfo(cfg.Paths.SocketPath)
	if err != nil {
		t.Fatalf("ProcessInfo: %v", err)
	}
	if !alive || pid != os.Getpid() {
		t.Fatalf("expected live daemon with pid %d, got alive=%v pid=%d", os.Getpid(), alive, pid)
	}

	status, err := daemonctl.BuildStatusSnapshot(context.Background(), cfg.Paths.SocketPath, cfg)
	if err != nil {
		t.Fatalf("BuildStatusSnapshot: %v", err)
	}
	if !status.Running || status.Version != "snapshot-test" {
		t.Fatalf("unexpected online snapshot: %#v", status)
	}

	d.Stop()
	if err := daemonctl.WaitForShutdown(cfg.Paths.SocketPath, 2*time.Second); err != nil {
		t.Fatalf("WaitForShutdown after stop: %v", err)
	}
}
