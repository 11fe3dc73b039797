// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdiddy/kbsync/pkg/types"
)

var coverageCmd = &cobra.Command{
	Use:   "coverage",
	Short: "Report documents with missing or stale cards",
	Long: `Coverage compares the cards directory with the origins directory and lists
documents that have no cards, documents whose cards record an outdated
fingerprint, and card files that could not be read.

With --check the command fails when any document needs synchronization,
which suits CI pipelines.`,
	RunE: runCoverage,
}

func runCoverage(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	includeStale := cfg.Sync.IncludeStale
	if cmd.Flags().Changed("include-stale") {
		includeStale, _ = cmd.Flags().GetBool("include-stale")
	}

	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.svc.Coverage(includeStale)
	if err != nil {
		return err
	}

	if format == formatText {
		printCoverage(os.Stdout, report)
	} else if err := writeStructured(os.Stdout, format, report); err != nil {
		return err
	}

	if check, _ := cmd.Flags().GetBool("check"); check && !report.Covered() {
		return fmt.Errorf("%d missing, %d stale, %d invalid", len(report.Missing), len(report.Stale), len(report.Invalid))
	}
	return nil
}

func printCoverage(w io.Writer, r types.CoverageReport) {
	fmt.Fprintf(w, "%s %d\n", headStyle.Render("Documents:"), r.Total)
	list := func(title string, items []string) {
		section(w, title, len(items))
		for _, it := range items {
			fmt.Fprintf(w, "  %s\n", it)
		}
	}
	list("Missing cards", r.Missing)
	list("Stale cards", r.Stale)
	list("Invalid card files", r.Invalid)

	if r.Covered() {
		fmt.Fprintln(w, okStyle.Render("All documents are covered."))
	} else {
		fmt.Fprintln(w, warnStyle.Render("Run `kbsync sync` to update the cards."))
	}
}

func init() {
	coverageCmd.Flags().Bool("include-stale", true, "compare card fingerprints with the documents (default from sync.include_stale)")
	coverageCmd.Flags().Bool("check", false, "exit with an error when any document needs synchronization")
	addFormatFlag(coverageCmd)
	rootCmd.AddCommand(coverageCmd)
}
