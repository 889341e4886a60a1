package uprobe

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Capability bit positions from include/uapi/linux/capability.h.
const (
	capSysPtrace = 19
	capSysAdmin  = 21
	capPerfmon   = 38 // kernel 5.8+
	capBpf       = 39 // kernel 5.8+
)

// ErrInsufficientPrivilege is returned when the current process cannot load
// BPF programs and attach uprobes.
var ErrInsufficientPrivilege = errors.New("insufficient privilege for uprobes")

// Capabilities is the subset of the effective capability set uprobes need.
type Capabilities struct {
	SysAdmin  bool
	SysPtrace bool
	BPF       bool
	Perfmon   bool
}

// CanAttach reports whether the set allows loading the entry program and
// attaching it to another process. CAP_SYS_ADMIN covers everything on
// kernels older than 5.8.
func (c Capabilities) CanAttach() bool {
	return c.SysAdmin || (c.BPF && c.Perfmon)
}

// missing names what CanAttach lacks.
func (c Capabilities) missing() string {
	var need []string
	if !c.BPF {
		need = append(need, "CAP_BPF")
	}
	if !c.Perfmon {
		need = append(need, "CAP_PERFMON")
	}
	return strings.Join(need, "+") + " (or CAP_SYS_ADMIN)"
}

// ReadCapabilities parses the CapEff line of a /proc/<pid>/status file.
func ReadCapabilities(statusPath string) (Capabilities, error) {
	f, err := os.Open(statusPath)
	if err != nil {
		return Capabilities{}, fmt.Errorf("failed to open %s: %w", statusPath, err)
	}
	defer f.Close() // nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "CapEff:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return Capabilities{}, fmt.Errorf("invalid CapEff line: %q", line)
		}
		mask, err := strconv.ParseUint(fields[1], 16, 64)
		if err != nil {
			return Capabilities{}, fmt.Errorf("failed to parse CapEff: %w", err)
		}
		has := func(bit uint) bool { return mask&(1<<bit) != 0 }
		return Capabilities{
			SysAdmin:  has(capSysAdmin),
			SysPtrace: has(capSysPtrace),
			BPF:       has(capBpf),
			Perfmon:   has(capPerfmon),
		}, nil
	}
	if err := scanner.Err(); err != nil {
		return Capabilities{}, fmt.Errorf("failed to scan %s: %w", statusPath, err)
	}
	return Capabilities{}, fmt.Errorf("CapEff not found in %s", statusPath)
}

// Preflight fails with ErrInsufficientPrivilege when the process described
// by statusPath cannot attach uprobes.
func Preflight(statusPath string) error {
	caps, err := ReadCapabilities(statusPath)
	if err != nil {
		return err
	}
	if !caps.CanAttach() {
		return fmt.Errorf("%w: need %s", ErrInsufficientPrivilege, caps.missing())
	}
	return nil
}
