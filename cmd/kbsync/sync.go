// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/kbsync/internal/syncer"
	"github.com/pdiddy/kbsync/pkg/types"
)

// --- upsert ---

var upsertCmd = &cobra.Command{
	Use:   "upsert <path>...",
	Short: "Generate the cards of specific documents",
	Long: `Upsert synthesizes the cards of each named document. Paths are relative to
the origins directory. Documents whose cards are current are skipped unless
--force is given.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runUpsert,
}

func runUpsert(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	opts := upsertOptions(cmd)

	a, err := newApp(cmd.Context(), cfg, true)
	if err != nil {
		return err
	}
	defer a.Close()

	results := make([]types.UpsertResult, 0, len(args))
	failed := 0
	for _, rel := range args {
		res, err := a.svc.Upsert(cmd.Context(), filepath.ToSlash(rel), opts)
		if err != nil {
			failed++
		}
		results = append(results, res)
		if format == formatText {
			printResult(os.Stdout, res)
		}
	}
	if format != formatText {
		if err := writeStructured(os.Stdout, format, results); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d document(s) failed", failed)
	}
	return nil
}

// --- sync ---

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Synchronize the cards of every document",
	Long: `Sync walks the origins directory and synthesizes cards for every document
whose cards are missing or stale (all documents with --force). A failing
document is reported and never stops the others.`,
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	c := cfg
	if cmd.Flags().Changed("concurrency") {
		c.Sync.Concurrency, _ = cmd.Flags().GetInt("concurrency")
		if err := c.Sync.Validate(); err != nil {
			return fmt.Errorf("--concurrency: %w", err)
		}
	}

	a, err := newApp(cmd.Context(), c, true)
	if err != nil {
		return err
	}
	defer a.Close()

	report := a.svc.SyncAll(cmd.Context(), upsertOptions(cmd))
	if format == formatText {
		printSyncReport(os.Stdout, report)
	} else if err := writeStructured(os.Stdout, format, report); err != nil {
		return err
	}

	if !report.OK {
		return fmt.Errorf("sync failed: %s", report.Error)
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d document(s) failed", report.Failed)
	}
	return nil
}

func upsertOptions(cmd *cobra.Command) syncer.UpsertOptions {
	force, _ := cmd.Flags().GetBool("force")
	role, _ := cmd.Flags().GetString("role")
	return syncer.UpsertOptions{Force: force, Role: role}
}

func printResult(w io.Writer, r types.UpsertResult) {
	fmt.Fprintln(w, resultLine(r))
}

// resultLine renders one upsert outcome.
func resultLine(r types.UpsertResult) string {
	switch {
	case !r.OK:
		return fmt.Sprintf("%s %s: %s", failStyle.Render("failed "), r.Origin, r.Error)
	case r.Skipped:
		return fmt.Sprintf("%s %s %s", dimStyle.Render("current"), r.Origin, dimStyle.Render(fmt.Sprintf("(%d cards)", r.CardCount)))
	case r.Placeholder():
		return fmt.Sprintf("%s %s: placeholder card (%s)", warnStyle.Render("partial"), r.Origin, r.Quality.GenerationError)
	}

	var notes []string
	if q := r.Quality; q != nil {
		if q.RefinementApplied {
			notes = append(notes, "refined")
		}
		if !q.Judge.OK {
			notes = append(notes, fmt.Sprintf("%d gaps", len(q.Judge.Missing)))
		}
		if q.ValidatorError != "" {
			notes = append(notes, "judge "+q.ValidatorError)
		}
	}
	line := fmt.Sprintf("%s %s: %d cards", okStyle.Render("synced "), r.Origin, r.CardCount)
	if len(notes) > 0 {
		line += " " + dimStyle.Render("("+strings.Join(notes, ", ")+")")
	}
	return line
}

func printSyncReport(w io.Writer, r types.SyncReport) {
	if !r.OK {
		fmt.Fprintf(w, "%s %s\n", failStyle.Render("sync failed:"), r.Error)
		return
	}
	for _, res := range r.Results {
		printResult(w, res)
	}
	fmt.Fprintf(w, "\nprocessed: %d, skipped: %d, failed: %d, placeholders: %d\n",
		r.Processed, r.Skipped, r.Failed, len(r.Placeholders))

	if len(r.Placeholders) > 0 {
		origins := make([]string, 0, len(r.Placeholders))
		for o := range r.Placeholders {
			origins = append(origins, o)
		}
		sort.Strings(origins)
		section(w, "Placeholders", len(origins))
		for _, o := range origins {
			fmt.Fprintf(w, "  %s: %s\n", o, r.Placeholders[o])
		}
	}
}

// --- prune ---

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete cards whose source document no longer exists",
	RunE:  runPrune,
}

func runPrune(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.svc.Prune(cmd.Context())
	if err != nil {
		return err
	}
	if format != formatText {
		return writeStructured(os.Stdout, format, report)
	}
	for _, p := range report.Removed {
		fmt.Fprintf(os.Stdout, "removed %s\n", p)
	}
	for _, p := range report.Failed {
		fmt.Fprintf(os.Stdout, "%s %s\n", failStyle.Render("failed "), p)
	}
	fmt.Fprintf(os.Stdout, "\nremoved: %d, failed: %d\n", len(report.Removed), len(report.Failed))
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d card file(s) could not be removed", len(report.Failed))
	}
	return nil
}

func init() {
	for _, c := range []*cobra.Command{upsertCmd, syncCmd} {
		c.Flags().Bool("force", false, "regenerate even when the cards are current")
		c.Flags().String("role", "", "role of the card writer (default from sync.role)")
		addFormatFlag(c)
	}
	syncCmd.Flags().Int("concurrency", 1, "documents processed in parallel (default from sync.concurrency)")
	addFormatFlag(pruneCmd)

	rootCmd.AddCommand(upsertCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(pruneCmd)
}
