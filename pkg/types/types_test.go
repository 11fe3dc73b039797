// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	c := DefaultConfig()
	require.NoError(t, c.Validate())
	require.NoError(t, c.AI.Validate())
	assert.Equal(t, "knowledge_base/origins", c.KnowledgeBase.OriginsPath())
	assert.Equal(t, "knowledge_base/cards_md", c.KnowledgeBase.CardsPath())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty origins dir", func(c *Config) { c.KnowledgeBase.OriginsDir = "" }, "knowledge_base"},
		{"concurrency too high", func(c *Config) { c.Sync.Concurrency = 65 }, "sync"},
		{"negative debounce", func(c *Config) { c.Sync.WatchDebounce = -time.Second }, "sync"},
		{"unknown log level", func(c *Config) { c.Log.Level = "trace" }, "log"},
		{"no listen address", func(c *Config) { c.Serve.Addr = "" }, "serve"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAIConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*AIConfig)
		wantErr bool
	}{
		{"defaults", func(*AIConfig) {}, false},
		{"claude", func(c *AIConfig) { c.Provider = ProviderClaude; c.Model = "claude-sonnet-4-5" }, false},
		{"custom base url", func(c *AIConfig) { c.BaseURL = "http://127.0.0.1:8080/v1" }, false},
		{"unknown provider", func(c *AIConfig) { c.Provider = "openai" }, true},
		{"no model", func(c *AIConfig) { c.Model = "" }, true},
		{"relative base url", func(c *AIConfig) { c.BaseURL = "gigachat/api" }, true},
		{"too many retries", func(c *AIConfig) { c.MaxRetries = 6 }, true},
		{"negative delay", func(c *AIConfig) { c.RequestDelay = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig().AI
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestJournalDBPath(t *testing.T) {
	assert.Equal(t, "kb/.kbsync/journal.db", JournalConfig{}.DBPath("kb"))
	assert.Equal(t, "/var/lib/kbsync.db", JournalConfig{Path: "/var/lib/kbsync.db"}.DBPath("kb"))
}

func TestMissingItemJSON(t *testing.T) {
	report := ValidationReport{
		Missing: []MissingItem{
			{What: "pricing table", Evidence: "Plan A costs 10"},
			Diagnostic("validator error: %s", "timeout"),
		},
	}
	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"ok": false,
		"missing": [{"what": "pricing table", "evidence": "Plan A costs 10"}, "validator error: timeout"],
		"suggested_card_titles": null
	}`, string(data))

	var back ValidationReport
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, report.Missing, back.Missing)
}

func TestKnowledgeCardNormalize(t *testing.T) {
	c := KnowledgeCard{
		Title:    "  Title ",
		KeyTerms: []string{" a ", "", "  "},
		Entities: nil,
	}.Normalize()
	assert.Equal(t, "Title", c.Title)
	assert.Equal(t, []string{"a"}, c.KeyTerms)
	assert.Equal(t, []string{}, c.Entities)
}

func TestCoverageReport(t *testing.T) {
	r := CoverageReport{Missing: []string{"a.md", "b.md"}, Stale: []string{"b.md", "c.md"}}
	assert.False(t, r.Covered())
	assert.Equal(t, []string{"a.md", "b.md", "c.md"}, r.NeedsSync())
	assert.True(t, CoverageReport{Total: 3}.Covered())
}
