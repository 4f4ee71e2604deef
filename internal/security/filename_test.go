package security

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"game-1", "game-1"},
		{"", "unknown"},
		{"../../etc/passwd", "etc_passwd"},
		{"a b\tc", "a_b_c"},
		{"  spaced  ", "spaced"},
		{"../", "unknown"},
		{"ünïcode", "n_code"},
		{"5f0c1d2e-0000-4000-8000-000000000000", "5f0c1d2e-0000-4000-8000-000000000000"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFilename(tt.in))
		})
	}

	long := SanitizeFilename(strings.Repeat("x", 500))
	assert.Len(t, long, maxFilenameLen)
}

func TestAttachmentHeader(t *testing.T) {
	assert.Equal(t, `attachment; filename="g1.pgn"`, AttachmentHeader("g1", ".pgn"))
	assert.Equal(t, `attachment; filename="a_b.pgn"`, AttachmentHeader(`a"b`, ".pgn"))
}
