package resource

import (
	"context"
	"time"
)

// StaticMonitor reports a fixed memory snapshot. It backs tests and the
// dry-run paths that must not touch the host.
type StaticMonitor struct {
	AvailableMBValue int64
	TotalMBValue     int64
	Err              error
}

// NewStaticMonitor returns a monitor that always reports the given
// available memory.
func NewStaticMonitor(availableMB int64) *StaticMonitor {
	return &StaticMonitor{AvailableMBValue: availableMB, TotalMBValue: availableMB}
}

// Available implements Monitor.
func (s *StaticMonitor) Available(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	if s.Err != nil {
		return Snapshot{}, s.Err
	}
	return Snapshot{
		AvailableMB: s.AvailableMBValue,
		TotalMB:     s.TotalMBValue,
		CheckedAt:   time.Now().UTC(),
	}, nil
}
