package debuginfo

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testPoint struct {
	X     int32
	Y     int32
	Value float64
}

// Package-level variables read back from the test binary's own DWARF.
var (
	testCounter  int32 = -7
	testRatio          = 0.25
	testPointPtr       = &testPoint{X: 1, Y: 2, Value: 3.5}
)

const selfPkg = "github.com/coral-mesh/strobe/pkg/debuginfo"

// openSelf parses the running test binary, skipping when it was built
// without DWARF.
func openSelf(t *testing.T) *Index {
	t.Helper()

	exe, err := os.Executable()
	require.NoError(t, err)

	idx, err := Open(zerolog.Nop(), exe, Options{})
	if errors.Is(err, ErrNoDebugInfo) {
		t.Skip("test binary has no DWARF (built with -ldflags=-w?)")
	}
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestOpenSelfFunctions(t *testing.T) {
	idx := openSelf(t)

	assert.Equal(t, SeparatorGo, idx.Separator())
	assert.Equal(t, runtime.GOARCH, idx.Arch())
	assert.Greater(t, idx.FunctionCount(), 100)

	fns := idx.FindFunctions(selfPkg + ".TestOpenSelfFunctions")
	require.Len(t, fns, 1)
	fn := fns[0]
	assert.Greater(t, fn.HighPC, fn.LowPC)

	got, ok := idx.FunctionContaining(fn.LowPC + 1)
	require.True(t, ok)
	assert.Equal(t, fn.Name, got.Name)

	all := idx.FindFunctions(selfPkg + ".Test*")
	assert.GreaterOrEqual(t, len(all), 5)

	assert.NotEmpty(t, idx.FunctionsInFile("parser_test.go"))
}

func TestOpenSelfVariables(t *testing.T) {
	idx := openSelf(t)
	// Keep the variables reachable.
	require.NotNil(t, testPointPtr)
	require.Equal(t, int32(-7), testCounter)
	require.Equal(t, 0.25, testRatio)

	v, err := idx.FindVariable(selfPkg + ".testCounter")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), v.Size)
	assert.Equal(t, SignedType, v.Type)
	assert.NotZero(t, v.Address)

	v, err = idx.FindVariable(selfPkg + ".testRatio")
	require.NoError(t, err)
	assert.Equal(t, uint64(8), v.Size)
	assert.Equal(t, FloatType, v.Type)

	ptr, err := idx.FindVariable(selfPkg + ".testPointPtr")
	require.NoError(t, err)
	assert.Equal(t, PointerType, ptr.Type)
	assert.Equal(t, uint64(8), ptr.Size)

	members, err := idx.Members(ptr.Pointee)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "X", members[0].Name)
	assert.Equal(t, uint64(0), members[0].Offset)
	assert.Equal(t, SignedType, members[0].Type)
	assert.Equal(t, "Y", members[1].Name)
	assert.Equal(t, uint64(4), members[1].Offset)
	assert.Equal(t, "Value", members[2].Name)
	assert.Equal(t, uint64(8), members[2].Offset)
	assert.Equal(t, FloatType, members[2].Type)
}

func TestOpenSelfLines(t *testing.T) {
	idx := openSelf(t)

	_, file, line, ok := runtime.Caller(0)
	require.True(t, ok)

	addr, actual, ok := idx.ResolveLine(filepath.Base(file), uint32(line))
	require.True(t, ok)
	assert.Equal(t, uint32(line), actual)

	_, ok = idx.ResolveAddress(addr)
	require.True(t, ok)

	fn, ok := idx.FunctionContaining(addr)
	require.True(t, ok)
	assert.Contains(t, fn.Name, "TestOpenSelfLines")

	for a := fn.LowPC; a < fn.HighPC; a += 8 {
		next, ok := idx.NextStatementInFunction(a, 0)
		if ok {
			assert.True(t, fn.Contains(next.Address))
		}
	}
}

func TestOpenNotABinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello world"), 0o600))

	_, err := Open(zerolog.Nop(), path, Options{})
	assert.Error(t, err)
}

func TestParseBuildIDNote(t *testing.T) {
	// namesz=4, descsz=4, type=3, "GNU\0", desc
	note := []byte{4, 0, 0, 0, 4, 0, 0, 0, 3, 0, 0, 0, 'G', 'N', 'U', 0, 0xab, 0xcd, 0xef, 0x01}
	assert.Equal(t, "abcdef01", parseBuildIDNote(note, littleEndian{}))
	assert.Empty(t, parseBuildIDNote(note[:10], littleEndian{}))
}

type littleEndian struct{}

func (littleEndian) Uint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func TestDebugCandidates(t *testing.T) {
	img := &image{path: "/opt/app/bin/server", format: "elf", buildID: "abcdef01", debugLink: "server.debug"}
	got := img.debugCandidates("/symbols")
	assert.Equal(t, []string{
		"/usr/lib/debug/.build-id/ab/cdef01.debug",
		"/opt/app/bin/server.debug",
		"/opt/app/bin/.debug/server.debug",
		"/usr/lib/debug/opt/app/bin/server.debug",
		"/symbols/server.debug",
	}, got)

	img = &image{path: "/Users/me/app", format: "macho"}
	got = img.debugCandidates("")
	assert.Equal(t, []string{"/Users/me/app.dSYM/Contents/Resources/DWARF/app"}, got)
}

func TestImageBaseMatchesIndex(t *testing.T) {
	idx := openSelf(t)
	base, err := ImageBase(idx.Path())
	require.NoError(t, err)
	assert.Equal(t, idx.ImageBase(), base)

	bogus := filepath.Join(t.TempDir(), "bogus")
	require.NoError(t, os.WriteFile(bogus, []byte("#!/bin/sh\n"), 0o600))
	_, err = ImageBase(bogus)
	assert.Error(t, err)
	_, err = ImageBase(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
