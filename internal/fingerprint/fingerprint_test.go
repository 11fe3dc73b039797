// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package fingerprint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const abcDigest = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestSum(t *testing.T) {
	assert.Equal(t, abcDigest, Sum([]byte("abc")))
	assert.Len(t, Sum(nil), 64)
}

func TestFileMatchesSum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.md")
	data := []byte(strings.Repeat("# Intro\nAcme does X.\n", 1000))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	got, err := File(path)
	require.NoError(t, err)
	assert.Equal(t, Sum(data), got)
}

func TestFileMissing(t *testing.T) {
	_, err := File(filepath.Join(t.TempDir(), "nope.md"))
	assert.Error(t, err)
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		want   string
		wantOK bool
	}{
		{
			name:   "footer",
			text:   "-- d --\n\nbody\n\n<!-- source: origins/a.md source_sha256: " + abcDigest + " -->\n",
			want:   abcDigest,
			wantOK: true,
		},
		{
			name:   "last label wins",
			text:   "source_sha256: " + strings.Repeat("0", 64) + "\n<!-- source_sha256: " + abcDigest + " -->",
			want:   abcDigest,
			wantOK: true,
		},
		{name: "no label", text: "-- d --\n\nbody\n"},
		{name: "label without token", text: "<!-- source_sha256:"},
		{name: "short token", text: "<!-- source_sha256: abc123 -->"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Extract(tt.text)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsStale(t *testing.T) {
	card := "<!-- source: origins/a.md source_sha256: " + abcDigest + " -->\n"
	assert.False(t, IsStale(card, abcDigest))
	assert.True(t, IsStale(card, Sum([]byte("changed"))))
	assert.True(t, IsStale("no footer at all", abcDigest))
}
