package debuginfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternMatch(t *testing.T) {
	tests := []struct {
		pattern string
		sep     string
		name    string
		want    bool
	}{
		{"Audio::*", SeparatorNative, "Audio::process", true},
		{"Audio::*", SeparatorNative, "Audio::Inner::process", false},
		{"Audio::**", SeparatorNative, "Audio::Inner::process", true},
		{"Audio::**", SeparatorNative, "Audio::", false},
		{"Audio::**", SeparatorNative, "Audio", false},
		{"**::process", SeparatorNative, "a::b::c::process", true},
		{"**::process", SeparatorNative, "process", false},
		{"audio::*", SeparatorNative, "audio::mix(float, float)", true},
		{"audio::mix", SeparatorNative, "audio::mix(float, float)", true},
		{"audio::*", SeparatorNative, "AUDIO::mix", false},
		{"*::operator[]", SeparatorNative, "Vec::operator[](unsigned long)", true},
		{"ns::get?", SeparatorNative, "ns::getX", false},
		{"ns::get?", SeparatorNative, "ns::get?", true},
		{"(anonymous namespace)::*", SeparatorNative, "(anonymous namespace)::helper(int)", true},
		{"main.*", SeparatorGo, "main.run", true},
		{"main.*", SeparatorGo, "main.(*Server).Handle", false},
		{"main.**", SeparatorGo, "main.(*Server).Handle", true},
		{"main.(*Server).*", SeparatorGo, "main.(*Server).Handle", true},
		{"github.com/x/y.*", SeparatorGo, "github.com/x/y.Run", true},
		{"process_*", SeparatorNative, "process_note_on", true},
		{"*", SeparatorNative, "main", true},
		{"*", SeparatorNative, "a::b", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.name, func(t *testing.T) {
			p, err := CompilePattern(tt.pattern, tt.sep)
			require.NoError(t, err)
			assert.Equal(t, tt.want, p.Match(tt.name))
		})
	}
}

func TestStripParams(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"audio::mix(float, float)", "audio::mix"},
		{"main", "main"},
		{"(anonymous namespace)::helper(int)", "(anonymous namespace)::helper"},
		{"a::(anonymous namespace)::b()", "a::(anonymous namespace)::b"},
		{"(*T).M", "(*T).M"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StripParams(tt.in), tt.in)
	}
}

func TestLastSegment(t *testing.T) {
	assert.Equal(t, "gBuffer", lastSegment("audio::gBuffer", SeparatorNative))
	assert.Equal(t, "process", lastSegment("a::b::process(int)", SeparatorNative))
	assert.Equal(t, "counter", lastSegment("main.counter", SeparatorGo))
	assert.Equal(t, "plain", lastSegment("plain", SeparatorGo))
}
