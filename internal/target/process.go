package target

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessInfo describes a process the engine attaches to.
type ProcessInfo struct {
	PID     int32  `json:"pid"`
	Name    string `json:"name"`
	Exe     string `json:"exe"`
	Threads int32  `json:"threads"`
}

// InspectProcess looks a process up and reports its executable. It fails
// when the process does not exist or is no longer running.
func InspectProcess(ctx context.Context, pid int32) (ProcessInfo, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("process %d: %w", pid, err)
	}
	running, err := p.IsRunningWithContext(ctx)
	if err != nil {
		return ProcessInfo{}, fmt.Errorf("process %d: %w", pid, err)
	}
	if !running {
		return ProcessInfo{}, fmt.Errorf("process %d is not running", pid)
	}

	info := ProcessInfo{PID: pid}
	if info.Exe, err = p.ExeWithContext(ctx); err != nil {
		return ProcessInfo{}, fmt.Errorf("process %d executable: %w", pid, err)
	}
	// Name and thread count are informational only.
	info.Name, _ = p.NameWithContext(ctx)
	info.Threads, _ = p.NumThreadsWithContext(ctx)
	return info, nil
}
