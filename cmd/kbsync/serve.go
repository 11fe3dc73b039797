// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pdiddy/kbsync/internal/api"
	"github.com/pdiddy/kbsync/internal/mcpserver"
	"github.com/pdiddy/kbsync/internal/syncer"
)

const shutdownTimeout = 10 * time.Second

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve exposes coverage, document status and synchronization over HTTP.
When serve.token is set every route except /healthz requires
"Authorization: Bearer <token>". With --watch the origins directory is
watched in the same process.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := cfg.Serve.Addr
	if cmd.Flags().Changed("addr") {
		addr, _ = cmd.Flags().GetString("addr")
	}

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	var j api.Journal
	if a.journal != nil {
		j = a.journal
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(a.svc, j, cfg.Serve.Token, logger.Named("api")),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if watchToo, _ := cmd.Flags().GetBool("watch"); watchToo {
		g.Go(func() error {
			return a.watchOrigins(gCtx, syncer.UpsertOptions{}, nil)
		})
	}

	g.Go(func() error {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down http server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("http server stopped")
	return nil
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge base tools over MCP on stdio",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("mcp server starting on stdio", zap.String("origins", cfg.KnowledgeBase.OriginsPath()))
	return mcpserver.New(a.svc, version, logger.Named("mcp")).ServeStdio()
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kbsync %s\n", version)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default from serve.addr)")
	serveCmd.Flags().Bool("watch", false, "also watch the origins directory")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}
