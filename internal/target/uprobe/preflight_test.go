package uprobe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeStatus(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "status")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadCapabilities(t *testing.T) {
	tests := []struct {
		name    string
		capEff  string
		want    Capabilities
		canAttr bool
	}{
		{"none", "0000000000000000", Capabilities{}, false},
		{"root", "000001ffffffffff", Capabilities{SysAdmin: true, SysPtrace: true, BPF: true, Perfmon: true}, true},
		{"bpf and perfmon", "000000c000000000", Capabilities{BPF: true, Perfmon: true}, true},
		{"bpf only", "0000008000000000", Capabilities{BPF: true}, false},
		{"sys admin", "0000000000200000", Capabilities{SysAdmin: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeStatus(t, "Name:\tengine\nCapInh:\t0000000000000000\nCapEff:\t"+tt.capEff+"\n")
			caps, err := ReadCapabilities(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, caps)
			assert.Equal(t, tt.canAttr, caps.CanAttach())
		})
	}
}

func TestPreflight(t *testing.T) {
	err := Preflight(writeStatus(t, "CapEff:\t0000008000000000\n"))
	assert.ErrorIs(t, err, ErrInsufficientPrivilege)
	assert.ErrorContains(t, err, "CAP_PERFMON")

	assert.NoError(t, Preflight(writeStatus(t, "CapEff:\t0000000000200000\n")))

	assert.ErrorContains(t, Preflight(writeStatus(t, "Name:\tengine\n")), "CapEff not found")
	assert.ErrorContains(t, Preflight(writeStatus(t, "CapEff:\tzz\n")), "parse CapEff")
	assert.Error(t, Preflight(filepath.Join(t.TempDir(), "missing")))
}
