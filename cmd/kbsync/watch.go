// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pdiddy/kbsync/internal/syncer"
	"github.com/pdiddy/kbsync/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Regenerate cards whenever a source document changes",
	Long: `Watch follows the origins directory and upserts the cards of every document
that is created or modified. When a document is removed its cards are pruned
and its journal entry is dropped. Stop with Ctrl-C.`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := upsertOptions(cmd)
	if initial, _ := cmd.Flags().GetBool("initial-sync"); initial {
		report := a.svc.SyncAll(ctx, opts)
		printSyncReport(os.Stdout, report)
	}

	fmt.Fprintf(os.Stdout, "Watching %s\n", cfg.KnowledgeBase.OriginsPath())
	return a.watchOrigins(ctx, opts, func(line string) {
		fmt.Fprintln(os.Stdout, line)
	})
}

// watchOrigins runs the watcher until ctx is done, applying each event to
// the service. report, when set, receives a printable line per event.
func (a *app) watchOrigins(ctx context.Context, opts syncer.UpsertOptions, report func(string)) error {
	w, err := watch.New(a.svc.Corpus().Root(),
		watch.WithDebounce(cfg.Sync.WatchDebounce),
		watch.WithLogger(logger.Named("watch")))
	if err != nil {
		return err
	}
	log := logger.Named("watch")

	return w.Run(ctx, func(ctx context.Context, ev watch.Event) {
		switch ev.Op {
		case watch.Changed:
			res, err := a.svc.Upsert(ctx, ev.Path, opts)
			if err != nil {
				log.Warn("upsert failed", zap.String("path", ev.Path), zap.Error(err))
			}
			if report != nil {
				report(resultLine(res))
			}
		case watch.Removed:
			pr, err := a.svc.Prune(ctx)
			if err != nil {
				log.Warn("prune failed", zap.String("path", ev.Path), zap.Error(err))
				return
			}
			if a.journal != nil {
				if err := a.journal.Forget(ctx, ev.Path); err != nil {
					log.Warn("journal forget failed", zap.String("path", ev.Path), zap.Error(err))
				}
			}
			if report != nil {
				report(fmt.Sprintf("%s %s: %d card file(s) pruned", dimStyle.Render("removed"), ev.Path, len(pr.Removed)))
			}
		}
	})
}

func init() {
	watchCmd.Flags().Bool("initial-sync", false, "synchronize the whole corpus before watching")
	watchCmd.Flags().Bool("force", false, "regenerate even when the cards are current")
	watchCmd.Flags().String("role", "", "role of the card writer (default from sync.role)")
	rootCmd.AddCommand(watchCmd)
}
