package inspect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/strobe/internal/cli/helpers"
	"github.com/coral-mesh/strobe/internal/config"
	"github.com/coral-mesh/strobe/internal/constants"
	"github.com/coral-mesh/strobe/pkg/debuginfo"
	"github.com/coral-mesh/strobe/pkg/debuginfo/debuginfotest"
)

func fixtureOpener(_ context.Context, _ *config.Config, _ zerolog.Logger, path string) (*debuginfo.Index, error) {
	if path != "engine" {
		return nil, errors.New("no such binary")
	}
	return debuginfotest.Index(), nil
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv(constants.EnvConfig, t.TempDir())

	g := &helpers.Globals{}
	root := &cobra.Command{Use: "strobe", SilenceUsage: true, SilenceErrors: true}
	g.Register(root.PersistentFlags())
	root.AddCommand(Commands(&Env{Globals: g, Open: fixtureOpener})...)

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append(args, "--log-level", "off"))
	err := root.Execute()
	return out.String(), err
}

func TestSymbols(t *testing.T) {
	out, err := execute(t, "symbols", "engine")
	require.NoError(t, err)
	assert.Contains(t, out, "FUNCTION")
	assert.Contains(t, out, "audio::mix(float, float)")
	assert.Contains(t, out, "0x3000")

	out, err = execute(t, "symbols", "engine", "@file:midi/handler", "-o", "json")
	require.NoError(t, err)
	var rows []symbolRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "midi::process_note_on", rows[0].Name)
	assert.Equal(t, debuginfotest.NoteOn, rows[0].Address)
	assert.Equal(t, "/src/midi/handler.cpp:5", rows[0].Location)

	_, err = execute(t, "symbols", "missing")
	assert.ErrorContains(t, err, "no such binary")
}

func TestVars(t *testing.T) {
	out, err := execute(t, "vars", "engine", "gPoint*", "-o", "csv")
	require.NoError(t, err)
	assert.Equal(t, "VARIABLE,ADDRESS,SIZE,TYPE,LOCATION\ngPointPtr,0x5018,8,Point*,addr:0x5018\n", out)
}

func TestResolve(t *testing.T) {
	out, err := execute(t, "resolve", "engine", "gGamePtr->player->health", "-o", "json")
	require.NoError(t, err)
	var rows []recipeRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, debuginfotest.GamePtrAddr, rows[0].Base)
	assert.Equal(t, "+8 +0", rows[0].Chain)
	assert.Equal(t, uint8(4), rows[0].Size)

	out, err = execute(t, "resolve", "engine", "gPointPtr")
	require.NoError(t, err)
	assert.Contains(t, out, "gPointPtr->x")
	assert.Contains(t, out, "gPointPtr->value")

	_, err = execute(t, "resolve", "engine", "gPointPtr", "--depth", "9")
	assert.ErrorContains(t, err, "depth")

	_, err = execute(t, "resolve", "engine", "gMissing")
	assert.ErrorIs(t, err, debuginfo.ErrNotFound)
}

func TestLine(t *testing.T) {
	out, err := execute(t, "line", "engine", "engine.cpp:12", "-o", "json")
	require.NoError(t, err)
	var rows []lineRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, uint32(13), rows[0].Line)
	assert.Equal(t, uint64(0x1030), rows[0].Address)
	assert.Equal(t, "audio::process_buffer(audio::AudioBuffer*)", rows[0].Function)

	_, err = execute(t, "line", "engine", "engine.cpp:30")
	var noCode *debuginfo.NoCodeAtLineError
	require.ErrorAs(t, err, &noCode)
	assert.Contains(t, err.Error(), "nearby lines")

	_, err = execute(t, "line", "engine", "engine.cpp")
	assert.ErrorContains(t, err, "file:line")
}

func TestAddr(t *testing.T) {
	out, err := execute(t, "addr", "engine", "0x1034", "0x3010")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"0x1034", "audio::process_buffer(audio::AudioBuffer*)", "0x34", "/src/audio/engine.cpp:13"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"0x3010", "main", "0x10", "/src/main.cpp:102"}, strings.Fields(lines[2]))

	out, err = execute(t, "addr", "engine", "0x11100", "--slide", "0x10000", "-o", "json")
	require.NoError(t, err)
	var rows []addrRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "audio::mix(float, float)", rows[0].Function)

	_, err = execute(t, "addr", "engine", "0x9000")
	assert.ErrorIs(t, err, debuginfo.ErrNotFound)
	_, err = execute(t, "addr", "engine", "0x100", "--slide", "0x10000")
	assert.ErrorContains(t, err, "below slide")
	_, err = execute(t, "addr", "engine", "0x1000", "--slide", "0xffffffffffffffff")
	assert.ErrorContains(t, err, "out of range")
}

func TestLocals(t *testing.T) {
	out, err := execute(t, "locals", "engine", "audio::process_buffer", "-o", "json")
	require.NoError(t, err)
	var rows []localRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 3)
	assert.Equal(t, localRow{Name: "buf", Kind: "param", Type: "Point*", Size: 8, Location: "reg5"}, rows[0])
	assert.Equal(t, "fbreg-20", rows[2].Location)

	out, err = execute(t, "locals", "engine", "0x1010")
	require.NoError(t, err)
	assert.Contains(t, out, "frames")

	_, err = execute(t, "locals", "engine", "0x9000")
	assert.ErrorIs(t, err, debuginfo.ErrNotFound)
}

func TestParseFileLine(t *testing.T) {
	file, line, err := parseFileLine(`C:\src\engine.cpp:42`)
	require.NoError(t, err)
	assert.Equal(t, `C:\src\engine.cpp`, file)
	assert.Equal(t, uint32(42), line)

	for _, bad := range []string{"engine.cpp:", ":12", "engine.cpp:0", "engine.cpp:x"} {
		_, _, err := parseFileLine(bad)
		assert.Error(t, err, bad)
	}
}
