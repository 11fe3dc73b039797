// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T) string
		want  map[string]string
	}{
		{
			name: "reads key files and trims whitespace",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "chat-api-token", "  tok_abc123  \n")
				writeFile(t, dir, "anthropic-api-key", "sk-ant")
				return dir
			},
			want: map[string]string{
				"chat-api-token":    "tok_abc123",
				"anthropic-api-key": "sk-ant",
			},
		},
		{
			name: "missing directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "does-not-exist")
			},
			want: map[string]string{},
		},
		{
			name: "skips empty files",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, "gemini-api-key", "g-key")
				writeFile(t, dir, "empty", "")
				writeFile(t, dir, "blank", "   \n\t  ")
				return dir
			},
			want: map[string]string{"gemini-api-key": "g-key"},
		},
		{
			name: "skips dotfiles and subdirectories",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, dir, ".gitkeep", "")
				writeFile(t, dir, ".hidden", "secret")
				writeFile(t, dir, "chat-api-token", "tok")
				require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))
				return dir
			},
			want: map[string]string{"chat-api-token": "tok"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Load(tt.setup(t), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadUnreadableEntryIsLogged(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat-api-token", "tok")
	require.NoError(t, os.Symlink(filepath.Join(dir, "gone"), filepath.Join(dir, "gemini-api-key")))

	core, logs := observer.New(zap.WarnLevel)
	got, err := Load(dir, zap.New(core))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"chat-api-token": "tok"}, got)

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "gemini-api-key", logs.All()[0].ContextMap()["key"])
}

func TestMerge(t *testing.T) {
	got := Merge(
		map[string]string{"chat-api-token": "file", "gemini-api-key": "g"},
		map[string]string{"chat-api-token": " env ", "anthropic-api-key": ""},
	)
	assert.Equal(t, map[string]string{"chat-api-token": "env", "gemini-api-key": "g"}, got)
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}
