package resource

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pulp/internal/logging"
)

func writeMemInfo(t *testing.T, availableKB, totalKB int64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meminfo")
	content := fmt.Sprintf("MemTotal:       %d kB\nMemFree:         1024 kB\nMemAvailable:   %d kB\nBuffers:          512 kB\n",
		totalKB, availableKB)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write meminfo fixture: %v", err)
	}
	return path
}

func TestReadMemInfoParsesAvailable(t *testing.T) {
	path := writeMemInfo(t, 2048*1024, 8192*1024)

	snap, err := readMemInfo(path)
	if err != nil {
		t.Fatalf("readMemInfo failed: %v", err)
	}
	if snap.AvailableMB != 2048 {
		t.Fatalf("expected 2048 MB available, got %d", snap.AvailableMB)
	}
	if snap.TotalMB != 8192 {
		t.Fatalf("expected 8192 MB total, got %d", snap.TotalMB)
	}
	if snap.CheckedAt.IsZero() {
		t.Fatal("expected probe timestamp to be set")
	}
}

func TestReadMemInfoRejectsMissingAvailable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "meminfo")
	if err := os.WriteFile(path, []byte("MemTotal: 1024 kB\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := readMemInfo(path); err == nil {
		t.Fatal("expected an error for meminfo without MemAvailable")
	}
}

func TestAvailableCachesWithinTTL(t *testing.T) {
	monitor := &SystemMonitor{
		logger:      logging.NewNop(),
		meminfoPath: writeMemInfo(t, 4096*1024, 8192*1024),
		cacheTTL:    time.Minute,
	}

	first, err := monitor.Available(context.Background())
	if err != nil {
		t.Fatalf("first probe failed: %v", err)
	}
	monitor.meminfoPath = writeMemInfo(t, 512*1024, 8192*1024)

	second, err := monitor.Available(context.Background())
	if err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if second.AvailableMB != first.AvailableMB {
		t.Fatalf("expected cached value %d, got %d", first.AvailableMB, second.AvailableMB)
	}
	if !second.CheckedAt.Equal(first.CheckedAt) {
		t.Fatal("expected the cached snapshot to keep its probe time")
	}
}

func TestAvailableProbesFreshWithoutTTL(t *testing.T) {
	monitor := &SystemMonitor{
		logger:      logging.NewNop(),
		meminfoPath: writeMemInfo(t, 4096*1024, 8192*1024),
	}

	if _, err := monitor.Available(context.Background()); err != nil {
		t.Fatalf("first probe failed: %v", err)
	}
	monitor.meminfoPath = writeMemInfo(t, 512*1024, 8192*1024)

	snap, err := monitor.Available(context.Background())
	if err != nil {
		t.Fatalf("second probe failed: %v", err)
	}
	if snap.AvailableMB != 512 {
		t.Fatalf("expected fresh probe of 512 MB, got %d", snap.AvailableMB)
	}
}

func TestAvailableFallsBackToSysinfo(t *testing.T) {
	monitor := &SystemMonitor{
		logger:      logging.NewNop(),
		meminfoPath: filepath.Join(t.TempDir(), "missing"),
	}

	snap, err := monitor.Available(context.Background())
	if err != nil {
		t.Fatalf("expected sysinfo fallback to succeed, got %v", err)
	}
	if snap.AvailableMB <= 0 {
		t.Fatalf("expected a positive available reading, got %d", snap.AvailableMB)
	}
}

func TestAvailableHonorsContext(t *testing.T) {
	monitor := NewStaticMonitor(1024)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := monitor.Available(ctx); err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func TestStaticMonitorReportsFixedValue(t *testing.T) {
	monitor := NewStaticMonitor(777)
	snap, err := monitor.Available(context.Background())
	if err != nil {
		t.Fatalf("static probe failed: %v", err)
	}
	if snap.AvailableMB != 777 {
		t.Fatalf("expected 777 MB, got %d", snap.AvailableMB)
	}
}
