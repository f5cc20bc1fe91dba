package procwatch

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// SystemLister enumerates processes via gopsutil. It satisfies both Lister
// and Terminator.
type SystemLister struct{}

// NewSystemLister creates a process lister backed by the OS process table.
func NewSystemLister() *SystemLister {
	return &SystemLister{}
}

// List returns a snapshot of the process table. Processes that exit between
// enumeration and attribute reads are skipped.
func (s *SystemLister) List(ctx context.Context) ([]ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	infos := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // process may have exited
		}
		info := ProcessInfo{PID: p.Pid, Name: name}
		if exe, err := p.ExeWithContext(ctx); err == nil {
			info.Exe = exe
		}
		if created, err := p.CreateTimeWithContext(ctx); err == nil {
			info.StartedAt = time.UnixMilli(created)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Terminate kills the process with the given PID.
func (s *SystemLister) Terminate(ctx context.Context, pid int32) error {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := p.KillWithContext(ctx); err != nil {
		return fmt.Errorf("kill process %d: %w", pid, err)
	}
	return nil
}

var (
	_ Lister     = (*SystemLister)(nil)
	_ Terminator = (*SystemLister)(nil)
)
