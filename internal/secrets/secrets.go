// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package secrets loads model credentials from a directory of plain-text
// files. The file name is the key and the trimmed contents are the value.
//
// Recognised keys: anthropic-api-key, gemini-api-key, chat-api-token.
package secrets

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Load reads every regular file in dir. A missing directory yields an empty
// map. Unreadable entries are logged and skipped; empty values are dropped.
func Load(dir string, logger *zap.Logger) (map[string]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("reading secrets directory %s: %w", dir, err)
	}

	out := make(map[string]string, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			logger.Warn("skipping unreadable secret", zap.String("key", name), zap.Error(err))
			continue
		}
		if v := strings.TrimSpace(string(data)); v != "" {
			out[name] = v
		}
	}
	return out, nil
}

// Merge returns base overlaid with the non-empty values of env, keyed by
// secret name. Environment values win over files.
func Merge(base map[string]string, env map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(env))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range env {
		if v = strings.TrimSpace(v); v != "" {
			out[k] = v
		}
	}
	return out
}
