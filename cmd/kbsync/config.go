// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pdiddy/kbsync/pkg/types"
)

// configureEnv makes v read KBSYNC_* variables and the legacy names.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("KBSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, types.DefaultConfig())
	bindLegacyEnv(v)
}

// setDefaults registers every configuration key so that environment
// variables are honoured by Unmarshal even without a config file.
func setDefaults(v *viper.Viper, d types.Config) {
	v.SetDefault("knowledge_base.root", d.KnowledgeBase.Root)
	v.SetDefault("knowledge_base.origins_dir", d.KnowledgeBase.OriginsDir)
	v.SetDefault("knowledge_base.cards_dir", d.KnowledgeBase.CardsDir)

	v.SetDefault("ai.provider", d.AI.Provider)
	v.SetDefault("ai.model", d.AI.Model)
	v.SetDefault("ai.api_key", d.AI.APIKey)
	v.SetDefault("ai.base_url", d.AI.BaseURL)
	v.SetDefault("ai.max_retries", d.AI.MaxRetries)
	v.SetDefault("ai.timeout", d.AI.Timeout)
	v.SetDefault("ai.request_delay", d.AI.RequestDelay)
	v.SetDefault("ai.max_document_chars", d.AI.MaxDocumentChars)

	v.SetDefault("sync.concurrency", d.Sync.Concurrency)
	v.SetDefault("sync.role", d.Sync.Role)
	v.SetDefault("sync.include_stale", d.Sync.IncludeStale)
	v.SetDefault("sync.watch_debounce", d.Sync.WatchDebounce)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)

	v.SetDefault("journal.path", d.Journal.Path)
	v.SetDefault("journal.disabled", d.Journal.Disabled)

	v.SetDefault("serve.addr", d.Serve.Addr)
	v.SetDefault("serve.token", d.Serve.Token)
}

// bindLegacyEnv accepts the variable names used by earlier deployments
// next to the KBSYNC_ ones. The prefixed name wins when both are set.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"knowledge_base.root":        "KB_ROOT",
		"knowledge_base.origins_dir": "KB_ORIGINS_DIR",
		"knowledge_base.cards_dir":   "KB_CARDS_MD_DIR",
		"ai.base_url":                "GIGACHAT_BASE_URL",
		"ai.model":                   "GIGACHAT_MODEL",
	}
	for key, name := range legacy {
		prefixed := "KBSYNC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = v.BindEnv(key, prefixed, name)
	}
}

// loadConfig decodes the viper state into a validated Config.
func loadConfig() (types.Config, error) {
	return decodeConfig(viper.GetViper(), os.LookupEnv)
}

func decodeConfig(v *viper.Viper, lookup func(string) (string, bool)) (types.Config, error) {
	c := types.DefaultConfig()
	if err := v.Unmarshal(&c); err != nil {
		return c, fmt.Errorf("decoding config: %w", err)
	}

	// Legacy variables carry plain seconds.
	for name, dst := range map[string]*time.Duration{
		"GIGACHAT_TIMEOUT":         &c.AI.Timeout,
		"GIGACHAT_REQUEST_DELAY_S": &c.AI.RequestDelay,
	} {
		raw, ok := lookup(name)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		secs, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil || secs < 0 {
			return c, fmt.Errorf("%s: want seconds, got %q", name, raw)
		}
		*dst = time.Duration(secs * float64(time.Second))
	}

	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}
