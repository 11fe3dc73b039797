// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"fmt"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// AI providers selectable in AIConfig.Provider.
const (
	ProviderClaude = "claude"
	ProviderGemini = "gemini"
	ProviderChat   = "chat"
)

// DefaultChatBaseURL is the GigaChat API endpoint used by the chat provider
// when no base URL is configured.
const DefaultChatBaseURL = "https://gigachat.devices.sberbank.ru/api/v1/"

// KnowledgeBaseConfig locates the source corpus and the card output directory.
type KnowledgeBaseConfig struct {
	// Root is the knowledge base directory (default "knowledge_base").
	Root string `json:"root" yaml:"root" mapstructure:"root"`

	// OriginsDir is the source corpus directory, relative to Root (default "origins").
	OriginsDir string `json:"origins_dir" yaml:"origins_dir" mapstructure:"origins_dir"`

	// CardsDir is the card output directory, relative to Root (default "cards_md").
	CardsDir string `json:"cards_dir" yaml:"cards_dir" mapstructure:"cards_dir"`
}

// OriginsPath returns the absolute-or-relative path of the source corpus.
func (c KnowledgeBaseConfig) OriginsPath() string {
	return filepath.Join(c.Root, c.OriginsDir)
}

// CardsPath returns the path of the card output directory.
func (c KnowledgeBaseConfig) CardsPath() string {
	return filepath.Join(c.Root, c.CardsDir)
}

// Validate checks the knowledge base configuration.
func (c *KnowledgeBaseConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.OriginsDir, validation.Required),
		validation.Field(&c.CardsDir, validation.Required),
	)
}

// AIConfig holds settings for the generation and validation capability.
type AIConfig struct {
	// Provider selects the transport: claude, gemini, or chat (OpenAI-compatible, e.g. GigaChat).
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"`

	// Model is the model identifier passed to the provider.
	Model string `json:"model" yaml:"model" mapstructure:"model"`

	// APIKey authenticates against the provider. Falls back to .secrets/ when empty.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty" mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint. The chat provider defaults to DefaultChatBaseURL.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty" mapstructure:"base_url"`

	// MaxRetries is the number of re-prompts after an unparsable response (default 1).
	MaxRetries int `json:"max_retries" yaml:"max_retries" mapstructure:"max_retries"`

	// Timeout bounds a single provider call (default 60s).
	Timeout time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`

	// RequestDelay is slept before every provider call as a rate-limiting courtesy.
	RequestDelay time.Duration `json:"request_delay" yaml:"request_delay" mapstructure:"request_delay"`

	// MaxDocumentChars truncates the document text embedded in prompts (default 15000).
	MaxDocumentChars int `json:"max_document_chars" yaml:"max_document_chars" mapstructure:"max_document_chars"`
}

// Validate checks the AI configuration.
func (c *AIConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Provider, validation.Required, validation.In(ProviderClaude, ProviderGemini, ProviderChat)),
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.BaseURL, is.RequestURL),
		validation.Field(&c.MaxRetries, validation.Min(0), validation.Max(5)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
		validation.Field(&c.RequestDelay, validation.Min(time.Duration(0))),
		validation.Field(&c.MaxDocumentChars, validation.Min(0)),
	)
}

// SyncConfig holds settings for synchronization runs.
type SyncConfig struct {
	// Concurrency bounds how many documents SyncAll processes at once (default 1).
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency"`

	// Role is the instruction text that sets the generator's tone and focus.
	Role string `json:"role" yaml:"role" mapstructure:"role"`

	// IncludeStale enables fingerprint comparison in coverage analysis (default true).
	IncludeStale bool `json:"include_stale" yaml:"include_stale" mapstructure:"include_stale"`

	// WatchDebounce delays resynchronization after a file event (default 500ms).
	WatchDebounce time.Duration `json:"watch_debounce" yaml:"watch_debounce" mapstructure:"watch_debounce"`
}

// Validate checks the sync configuration.
func (c *SyncConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Concurrency, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.WatchDebounce, validation.Min(time.Duration(0))),
	)
}

// LogConfig controls logger construction.
type LogConfig struct {
	// Level is a zap level name: debug, info, warn, error.
	Level string `json:"level" yaml:"level" mapstructure:"level"`

	// File, when set, also writes logs to a rotating file.
	File string `json:"file,omitempty" yaml:"file,omitempty" mapstructure:"file"`

	MaxSizeMB  int `json:"max_size_mb" yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int `json:"max_backups" yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int `json:"max_age_days" yaml:"max_age_days" mapstructure:"max_age_days"`
}

// Validate checks the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.MaxSizeMB, validation.Min(0)),
		validation.Field(&c.MaxBackups, validation.Min(0)),
		validation.Field(&c.MaxAgeDays, validation.Min(0)),
	)
}

// JournalConfig locates the SQLite sync journal.
type JournalConfig struct {
	// Path is the database file. Empty means <knowledge_base.root>/.kbsync/journal.db.
	Path string `json:"path,omitempty" yaml:"path,omitempty" mapstructure:"path"`

	// Disabled turns journaling off.
	Disabled bool `json:"disabled" yaml:"disabled" mapstructure:"disabled"`
}

// DBPath returns the database file for a knowledge base rooted at root.
func (c JournalConfig) DBPath(root string) string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(root, ".kbsync", "journal.db")
}

// ServeConfig holds the HTTP API settings.
type ServeConfig struct {
	// Addr is the listen address (default "127.0.0.1:8087").
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`

	// Token, when set, is required as a Bearer token on every request.
	Token string `json:"-" yaml:"token,omitempty" mapstructure:"token"`
}

// Validate checks the serve configuration.
func (c *ServeConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Addr, validation.Required),
	)
}

// Config groups every configuration section.
type Config struct {
	KnowledgeBase KnowledgeBaseConfig `json:"knowledge_base" yaml:"knowledge_base" mapstructure:"knowledge_base"`
	AI            AIConfig            `json:"ai" yaml:"ai" mapstructure:"ai"`
	Sync          SyncConfig          `json:"sync" yaml:"sync" mapstructure:"sync"`
	Log           LogConfig           `json:"log" yaml:"log" mapstructure:"log"`
	Journal       JournalConfig       `json:"journal" yaml:"journal" mapstructure:"journal"`
	Serve         ServeConfig         `json:"serve" yaml:"serve" mapstructure:"serve"`
}

// Validate checks every section. The AI section is validated separately by
// commands that talk to a provider, so offline commands work without keys.
func (c *Config) Validate() error {
	if err := c.KnowledgeBase.Validate(); err != nil {
		return fmt.Errorf("knowledge_base: %w", err)
	}
	if err := c.Sync.Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Serve.Validate(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// DefaultRole is the generator role used when none is configured.
const DefaultRole = "You maintain a knowledge base. Turn each source document into accurate, " +
	"self-contained knowledge cards that keep every substantive detail of the source."

// DefaultConfig returns a Config populated with defaults.
func DefaultConfig() Config {
	return Config{
		KnowledgeBase: KnowledgeBaseConfig{
			Root:       "knowledge_base",
			OriginsDir: "origins",
			CardsDir:   "cards_md",
		},
		AI: AIConfig{
			Provider:         ProviderChat,
			Model:            "GigaChat-2",
			MaxRetries:       1,
			Timeout:          60 * time.Second,
			MaxDocumentChars: 15000,
		},
		Sync: SyncConfig{
			Concurrency:   1,
			Role:          DefaultRole,
			IncludeStale:  true,
			WatchDebounce: 500 * time.Millisecond,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Serve: ServeConfig{
			Addr: "127.0.0.1:8087",
		},
	}
}
