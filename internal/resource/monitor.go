package resource

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"pulp/internal/config"
	"pulp/internal/logging"
	"pulp/internal/services"
)

const defaultMemInfoPath = "/proc/meminfo"

// Snapshot captures the host memory state at one probe.
type Snapshot struct {
	AvailableMB int64
	TotalMB     int64
	CheckedAt   time.Time
}

// Monitor reports host memory availability. Implementations must be safe
// for concurrent use.
type Monitor interface {
	Available(ctx context.Context) (Snapshot, error)
}

// SystemMonitor probes /proc/meminfo and falls back to the sysinfo
// syscall when the file is missing or unparseable. Probes are cached for
// the configured TTL so concurrent document admissions share one reading.
type SystemMonitor struct {
	logger      *slog.Logger
	meminfoPath string
	cacheTTL    time.Duration

	mu     sync.Mutex
	cached Snapshot
}

// NewMonitor builds a system monitor from the resource configuration.
func NewMonitor(cfg *config.Config, logger *slog.Logger) *SystemMonitor {
	if logger == nil {
		logger = logging.NewNop()
	}
	ttl := time.Duration(0)
	if cfg != nil && cfg.Resources.ProbeCacheSeconds > 0 {
		ttl = time.Duration(cfg.Resources.ProbeCacheSeconds) * time.Second
	}
	return &SystemMonitor{
		logger:      logging.NewComponentLogger(logger, "resource"),
		meminfoPath: defaultMemInfoPath,
		cacheTTL:    ttl,
	}
}

// Available returns the current memory snapshot, reusing a recent probe
// when one is inside the cache TTL. When both probe paths fail the error
// is reported rather than a guessed value.
func (m *SystemMonitor) Available(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cacheTTL > 0 && !m.cached.CheckedAt.IsZero() && time.Since(m.cached.CheckedAt) < m.cacheTTL {
		return m.cached, nil
	}
	snap, err := m.probe()
	if err != nil {
		return Snapshot{}, err
	}
	m.cached = snap
	return snap, nil
}

func (m *SystemMonitor) probe() (Snapshot, error) {
	snap, err := readMemInfo(m.meminfoPath)
	if err == nil {
		return snap, nil
	}
	m.logger.Debug("meminfo probe failed, using sysinfo",
		logging.String("path", m.meminfoPath),
		logging.Error(err))
	snap, sysErr := sysinfoSnapshot()
	if sysErr != nil {
		return Snapshot{}, services.Wrap(services.ErrResourceInsufficient, "", "probe memory",
			"unable to determine available memory", fmt.Errorf("meminfo: %v; sysinfo: %w", err, sysErr))
	}
	return snap, nil
}

// readMemInfo parses MemAvailable and MemTotal out of a meminfo-format
// file. Values are reported in kB by the kernel.
func readMemInfo(path string) (Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return Snapshot{}, err
	}
	defer file.Close()

	var availableKB, totalKB int64 = -1, -1
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		value, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemAvailable:":
			availableKB = value
		case "MemTotal:":
			totalKB = value
		}
		if availableKB >= 0 && totalKB >= 0 {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Snapshot{}, err
	}
	if availableKB < 0 {
		return Snapshot{}, fmt.Errorf("%s: no MemAvailable entry", path)
	}
	return Snapshot{
		AvailableMB: availableKB / 1024,
		TotalMB:     totalKB / 1024,
		CheckedAt:   time.Now().UTC(),
	}, nil
}

func sysinfoSnapshot() (Snapshot, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return Snapshot{}, err
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	total := uint64(info.Totalram) * unit
	return Snapshot{
		AvailableMB: int64(free / (1 << 20)),
		TotalMB:     int64(total / (1 << 20)),
		CheckedAt:   time.Now().UTC(),
	}, nil
}
