package target

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMaps = `555555554000-555555556000 r--p 00000000 08:01 123456 /opt/app/server
555555556000-555555559000 r-xp 00002000 08:01 123456 /opt/app/server
555555559000-55555555a000 rw-p 00005000 08:01 123456 /opt/app/server
7ffff7dd3000-7ffff7dfc000 r-xp 00000000 08:01 654321 /usr/lib/ld-linux-x86-64.so.2
7ffffffde000-7ffffffff000 rw-p 00000000 00:00 0 [stack]
garbage line
`

func TestParseMaps(t *testing.T) {
	maps, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)
	require.Len(t, maps, 5)

	assert.Equal(t, uint64(0x555555554000), maps[0].Start)
	assert.Equal(t, uint64(0x555555556000), maps[0].End)
	assert.Equal(t, "/opt/app/server", maps[0].Path)
	assert.False(t, maps[0].Executable())
	assert.True(t, maps[1].Executable())
	assert.Equal(t, uint64(0x2000), maps[1].Offset)
	assert.Equal(t, "[stack]", maps[4].Path)
}

func TestComputeSlide(t *testing.T) {
	maps, err := ParseMaps(strings.NewReader(sampleMaps))
	require.NoError(t, err)

	slide, err := ComputeSlide(maps, "/opt/app/server", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0x555555554000), slide)

	nonPIE := []Mapping{{Start: 0x400000, End: 0x401000, Perms: "r-xp", Path: "/bin/tool"}}
	slide, err = ComputeSlide(nonPIE, "/bin/tool", 0x400000)
	require.NoError(t, err)
	assert.Zero(t, slide)

	_, err = ComputeSlide(maps, "/nope", 0)
	assert.ErrorIs(t, err, ErrNoMapping)
}

func TestStaticSlide(t *testing.T) {
	s, err := StaticSlide(-16).Slide()
	require.NoError(t, err)
	assert.Equal(t, int64(-16), s)
}
