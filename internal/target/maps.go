package target

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// pageSize is the mapping granularity assumed when aligning the image base.
const pageSize = 0x1000

// Mapping is one line of /proc/<pid>/maps.
type Mapping struct {
	Start  uint64
	End    uint64
	Perms  string
	Offset uint64
	Inode  uint64
	Path   string
}

// Executable reports whether the mapping is executable.
func (m Mapping) Executable() bool {
	return strings.Contains(m.Perms, "x")
}

// ParseMaps parses the /proc/<pid>/maps format.
func ParseMaps(r io.Reader) ([]Mapping, error) {
	var out []Mapping
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		start, end, ok := strings.Cut(fields[0], "-")
		if !ok {
			continue
		}
		var m Mapping
		var err error
		if m.Start, err = strconv.ParseUint(start, 16, 64); err != nil {
			continue
		}
		if m.End, err = strconv.ParseUint(end, 16, 64); err != nil {
			continue
		}
		if m.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
			continue
		}
		m.Inode, _ = strconv.ParseUint(fields[4], 10, 64)
		m.Perms = fields[1]
		if len(fields) > 5 {
			m.Path = strings.Join(fields[5:], " ")
		}
		out = append(out, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan maps: %w", err)
	}
	return out, nil
}

// ReadMaps parses /proc/<pid>/maps.
func ReadMaps(pid int) ([]Mapping, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/maps", pid)) // #nosec G304: pid is an int
	if err != nil {
		return nil, fmt.Errorf("open maps: %w", err)
	}
	defer f.Close() // nolint:errcheck
	return ParseMaps(f)
}

// ComputeSlide returns the slide of the image mapped from path: the start
// of its lowest mapping minus the page-aligned image base.
func ComputeSlide(mappings []Mapping, path string, imageBase uint64) (int64, error) {
	var (
		lowest uint64
		found  bool
	)
	for _, m := range mappings {
		if !samePath(m.Path, path) {
			continue
		}
		// The mapping at file offset 0 holds the ELF header and the first
		// PT_LOAD segment.
		base := m.Start - m.Offset
		if !found || base < lowest {
			lowest, found = base, true
		}
	}
	if !found {
		return 0, fmt.Errorf("%s: %w", path, ErrNoMapping)
	}
	return int64(lowest - imageBase&^(pageSize-1)), nil
}

func samePath(mapped, path string) bool {
	if mapped == "" || path == "" {
		return false
	}
	mapped = strings.TrimSuffix(mapped, " (deleted)")
	return mapped == path || filepath.Clean(mapped) == filepath.Clean(path)
}

// ProcSlide computes a process's slide from /proc and remembers it once
// it is known. A failed computation is retried on the next call, so a
// caller can wait for a freshly started process to map its image.
type ProcSlide struct {
	pid       int
	path      string
	imageBase uint64

	mu    sync.Mutex
	known bool
	slide int64
}

// NewProcSlide creates a SlideProvider for the image at path mapped in pid.
// An empty path means the process's main executable.
func NewProcSlide(pid int, path string, imageBase uint64) *ProcSlide {
	return &ProcSlide{pid: pid, path: path, imageBase: imageBase}
}

// Slide returns the cached slide, computing it until it succeeds once.
func (p *ProcSlide) Slide() (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.known {
		return p.slide, nil
	}

	path := p.path
	if path == "" {
		exe, err := os.Readlink(fmt.Sprintf("/proc/%d/exe", p.pid))
		if err != nil {
			return 0, fmt.Errorf("resolve executable: %w", err)
		}
		path = exe
	} else if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	mappings, err := ReadMaps(p.pid)
	if err != nil {
		return 0, err
	}
	slide, err := ComputeSlide(mappings, path, p.imageBase)
	if err != nil {
		return 0, err
	}
	p.slide, p.known = slide, true
	return slide, nil
}
