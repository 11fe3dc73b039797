// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package main is the entry point for the kbsync CLI. kbsync keeps a
// directory of knowledge cards synchronized with a corpus of Markdown and
// YAML source documents.
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/pdiddy/kbsync/internal/llm"
	"github.com/pdiddy/kbsync/internal/logging"
	"github.com/pdiddy/kbsync/internal/secrets"
	"github.com/pdiddy/kbsync/pkg/types"
)

// version is set at build time via ldflags.
var version = "dev"

var (
	// cfg is the validated configuration, loaded before every command.
	cfg types.Config

	// loadedSecrets holds credentials from the secrets directory and the
	// environment.
	loadedSecrets map[string]string

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "kbsync",
	Short: "Keep knowledge cards in sync with a document corpus",
	Long: `kbsync turns every Markdown or YAML document under the origins directory
into a set of knowledge cards written under the cards directory. A language
model drafts the cards, a second pass checks them against the document, and
each card records the fingerprint of its source so stale cards are found
cheaply.

Offline commands (coverage, ls, read, show, status, export, prune) never
contact the model.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = c

		l, err := logging.New(cfg.Log)
		if err != nil {
			return err
		}
		logger = l

		dir, _ := cmd.Flags().GetString("secrets-dir")
		s, err := secrets.Load(dir, logger)
		if err != nil {
			return err
		}
		loadedSecrets = secrets.Merge(s, map[string]string{
			llm.SecretChat: os.Getenv("GIGACHAT_ACCESS_TOKEN"),
		})
		if len(loadedSecrets) > 0 {
			keys := make([]string, 0, len(loadedSecrets))
			for k := range loadedSecrets {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			logger.Debug("loaded secrets", zap.Strings("keys", keys))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "config file (default: ./kbsync.yaml or ~/.config/kbsync/kbsync.yaml)")
	pf.String("secrets-dir", ".secrets", "directory of credential files")
	pf.String("kb-root", "", "knowledge base directory (overrides knowledge_base.root)")
	pf.String("log-level", "", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("knowledge_base.root", pf.Lookup("kb-root"))
	_ = viper.BindPFlag("log.level", pf.Lookup("log-level"))
}

func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintln(os.Stderr, "warning: reading .env:", err)
	}

	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("kbsync")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "kbsync"))
		}
	}

	configureEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
