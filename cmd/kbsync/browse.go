// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/kbsync/internal/cardfile"
	"github.com/pdiddy/kbsync/internal/corpus"
	"github.com/pdiddy/kbsync/internal/journal"
)

// --- read ---

var readCmd = &cobra.Command{
	Use:   "read <path>",
	Short: "Print a source document, truncated to --max-chars",
	Args:  cobra.ExactArgs(1),
	RunE:  runRead,
}

func runRead(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	maxChars, _ := cmd.Flags().GetInt("max-chars")

	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	ex, err := a.svc.Read(filepath.ToSlash(args[0]), maxChars)
	if err != nil {
		return err
	}
	if format != formatText {
		return writeStructured(os.Stdout, format, ex)
	}
	raw, _ := cmd.Flags().GetBool("raw")
	if path.Ext(ex.Path) != ".md" {
		raw = true
	}
	fmt.Fprintln(os.Stdout, renderMarkdown(ex.Content, raw))
	return nil
}

// --- ls ---

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List source documents and card files",
	RunE:  runLs,
}

func runLs(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	l, err := a.svc.Listing()
	if err != nil {
		return err
	}
	if format != formatText {
		return writeStructured(os.Stdout, format, l)
	}

	fmt.Fprintf(os.Stdout, "%s %s\n\n", headStyle.Render("Knowledge base:"), l.Root)
	section(os.Stdout, l.OriginsDir, l.OriginsCount)
	for _, p := range l.Origins {
		fmt.Fprintf(os.Stdout, "  %s\n", p)
	}
	fmt.Fprintln(os.Stdout)
	section(os.Stdout, l.CardsDir, l.CardsCount)
	for _, p := range l.Cards {
		fmt.Fprintf(os.Stdout, "  %s\n", p)
	}
	return nil
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <card-file>",
	Short: "Print a card file and whether it matches its source document",
	Long: `Show parses a card file (a path relative to the cards directory, or any
path on disk) and compares its recorded fingerprint against the current
source document.`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

// cardView is the structured output of show.
type cardView struct {
	File  string        `json:"file" yaml:"file"`
	Card  cardfile.Card `json:"card" yaml:"card"`
	State string        `json:"state" yaml:"state"`
}

// Card states reported by show.
const (
	stateCurrent       = "current"
	stateStale         = "stale"
	stateSourceMissing = "source missing"
	stateUnknown       = "no fingerprint"
)

func runShow(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	file := args[0]
	if _, err := os.Stat(file); err != nil {
		file = filepath.Join(cfg.KnowledgeBase.CardsPath(), file)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	card, err := cardfile.Parse(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	docs, err := corpus.New(cfg.KnowledgeBase.OriginsPath())
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	view := cardView{File: file, Card: card, State: cardState(docs, card)}

	if format != formatText {
		return writeStructured(os.Stdout, format, view)
	}
	raw, _ := cmd.Flags().GetBool("raw")
	printCard(os.Stdout, view, raw)
	return nil
}

// cardState compares the card's fingerprint with its source document.
func cardState(docs *corpus.Corpus, card cardfile.Card) string {
	if card.Fingerprint == "" {
		return stateUnknown
	}
	rel := strings.TrimPrefix(card.Source, docs.Name()+"/")
	if card.Source == "" || rel == card.Source {
		return stateSourceMissing
	}
	doc, err := docs.Load(rel)
	if err != nil {
		return stateSourceMissing
	}
	if doc.Fingerprint != card.Fingerprint {
		return stateStale
	}
	return stateCurrent
}

func printCard(w io.Writer, v cardView, raw bool) {
	state := okStyle.Render(v.State)
	if v.State != stateCurrent {
		state = warnStyle.Render(v.State)
	}
	fmt.Fprintf(w, "%s\n", headStyle.Render(v.Card.Description))
	fmt.Fprintf(w, "%s %s (%s)\n\n", dimStyle.Render("source:"), v.Card.Source, state)
	fmt.Fprintln(w, renderMarkdown(v.Card.Body, raw))
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status [path]",
	Short: "Show journaled sync state of documents",
	Long: `Status prints what the journal recorded for every synchronized document,
or the cards of one document when a path is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	j, err := a.requireJournal()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if len(args) == 1 {
		doc, err := j.Document(ctx, filepath.ToSlash(args[0]))
		if errors.Is(err, journal.ErrNotFound) {
			return fmt.Errorf("%s has not been synchronized", args[0])
		}
		if err != nil {
			return err
		}
		if format != formatText {
			return writeStructured(os.Stdout, format, doc)
		}
		printDocument(os.Stdout, doc)
		return nil
	}

	docs, err := j.Documents(ctx)
	if err != nil {
		return err
	}
	if format != formatText {
		return writeStructured(os.Stdout, format, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(os.Stdout, "No documents have been synchronized yet.")
		return nil
	}
	fmt.Fprintf(os.Stdout, "%-48s %5s  %-8s  %s\n", "DOCUMENT", "CARDS", "JUDGE", "SYNCED")
	for _, d := range docs {
		fmt.Fprintf(os.Stdout, "%-48s %5d  %-8s  %s\n",
			truncate(d.Path, 48), d.CardCount, judgeLabel(d), d.SyncedAt.Local().Format("2006-01-02 15:04"))
	}
	return nil
}

func judgeLabel(d journal.DocumentStatus) string {
	switch {
	case d.Placeholder:
		return warnStyle.Render("fallback")
	case d.JudgeOK:
		return okStyle.Render("ok")
	default:
		return warnStyle.Render("gaps")
	}
}

func printDocument(w io.Writer, d journal.DocumentStatus) {
	fmt.Fprintf(w, "%s %s\n", headStyle.Render(d.Path), judgeLabel(d))
	fmt.Fprintf(w, "%s %s\n", dimStyle.Render("fingerprint:"), d.Fingerprint)
	fmt.Fprintf(w, "%s %s\n", dimStyle.Render("synced:     "), d.SyncedAt.Local().Format("2006-01-02 15:04:05"))
	if d.RefinementApplied {
		fmt.Fprintf(w, "%s\n", dimStyle.Render("refined after judge review"))
	}
	if d.Quality != nil {
		for _, m := range d.Quality.Judge.Missing {
			fmt.Fprintf(w, "  %s %s\n", warnStyle.Render("missing:"), m.What)
		}
	}
	fmt.Fprintln(w)
	section(w, "Cards", len(d.Cards))
	for _, c := range d.Cards {
		fmt.Fprintf(w, "  %s  %s\n", c.File, truncate(c.Title, 60))
	}
}

// --- cards ---

var cardsCmd = &cobra.Command{
	Use:   "cards",
	Short: "Search journaled cards by key term, entity or title",
	RunE:  runCards,
}

func runCards(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	j, err := a.requireJournal()
	if err != nil {
		return err
	}

	q := journal.CardQuery{}
	q.Term, _ = cmd.Flags().GetString("term")
	q.Document, _ = cmd.Flags().GetString("document")
	q.MaxResults, _ = cmd.Flags().GetInt("limit")
	cards, err := j.Cards(cmd.Context(), q)
	if err != nil {
		return err
	}
	if format != formatText {
		return writeStructured(os.Stdout, format, cards)
	}
	if len(cards) == 0 {
		fmt.Fprintln(os.Stdout, "No matching cards.")
		return nil
	}
	for _, c := range cards {
		fmt.Fprintf(os.Stdout, "%s  %s\n", dimStyle.Render(c.Document), truncate(c.Title, 70))
		if len(c.KeyTerms) > 0 {
			fmt.Fprintf(os.Stdout, "  %s %s\n", dimStyle.Render("terms:"), strings.Join(c.KeyTerms, ", "))
		}
	}
	return nil
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent synchronization runs",
	RunE:  runRuns,
}

func runRuns(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	j, err := a.requireJournal()
	if err != nil {
		return err
	}

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := j.Runs(cmd.Context(), limit)
	if err != nil {
		return err
	}
	if format != formatText {
		return writeStructured(os.Stdout, format, runs)
	}
	fmt.Fprintf(os.Stdout, "%-16s  %-6s  %9s  %7s  %6s\n", "STARTED", "KIND", "PROCESSED", "SKIPPED", "FAILED")
	for _, r := range runs {
		kind := r.Kind
		if r.FinishedAt == nil {
			kind += "*"
		}
		fmt.Fprintf(os.Stdout, "%-16s  %-6s  %9d  %7d  %6d\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), kind, r.Processed, r.Skipped, r.Failed)
	}
	return nil
}

// --- export ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the journal as YAML or JSON",
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	format, _ := cmd.Flags().GetString("format")
	if format != formatYAML && format != formatJSON {
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}

	a, err := newApp(cmd.Context(), cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()
	j, err := a.requireJournal()
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if out, _ := cmd.Flags().GetString("output"); out != "" {
		f, err := os.Create(out)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}

	if format == formatJSON {
		return j.ExportJSON(cmd.Context(), w)
	}
	return j.ExportYAML(cmd.Context(), w)
}

func init() {
	readCmd.Flags().Int("max-chars", 12000, "maximum characters to print")
	readCmd.Flags().Bool("raw", false, "print Markdown without terminal rendering")
	showCmd.Flags().Bool("raw", false, "print the card body without terminal rendering")
	cardsCmd.Flags().String("term", "", "key term, entity or title substring")
	cardsCmd.Flags().String("document", "", "restrict to one source document")
	cardsCmd.Flags().Int("limit", 100, "maximum number of cards")
	runsCmd.Flags().Int("limit", 20, "maximum number of runs")
	for _, c := range []*cobra.Command{readCmd, lsCmd, showCmd, statusCmd, cardsCmd, runsCmd} {
		addFormatFlag(c)
	}
	exportCmd.Flags().String("format", formatYAML, "export format: yaml or json")
	exportCmd.Flags().StringP("output", "o", "", "write to this file instead of stdout")

	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cardsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(exportCmd)
}
