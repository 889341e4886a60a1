package debuginfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDemangle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"_ZN5audio14process_bufferEPNS_11AudioBufferE", "audio::process_buffer(audio::AudioBuffer*)"},
		{"__ZN5audio14process_bufferEPNS_11AudioBufferE", "audio::process_buffer(audio::AudioBuffer*)"},
		{"_ZN13stress_tester4midi15process_note_on17h7c4d62da364e13f0E", "stress_tester::midi::process_note_on"},
		{"main", "main"},
		{"main.run", "main.run"},
		{"_Znot_really", "_Znot_really"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Demangle(tt.in))
		})
	}
}
