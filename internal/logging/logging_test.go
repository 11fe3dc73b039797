// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pdiddy/kbsync/pkg/types"
)

func TestBuildConsoleLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := build(types.LogConfig{Level: "warn"}, &buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", zap.String("origin", "intro.md"))
	require.NoError(t, logger.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "intro.md")
}

func TestBuildRejectsUnknownLevel(t *testing.T) {
	_, err := build(types.LogConfig{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestBuildTeesIntoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kbsync.log")
	logger, err := build(types.LogConfig{Level: "info", File: path, MaxSizeMB: 1}, &bytes.Buffer{})
	require.NoError(t, err)

	logger.Info("cards synchronized", zap.Int("cards", 3))
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "cards synchronized", rec["msg"])
	assert.Equal(t, float64(3), rec["cards"])
}
