// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"
)

var (
	headStyle = lipgloss.NewStyle().Bold(true)
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func addFormatFlag(cmd *cobra.Command) {
	cmd.Flags().String("format", formatText, "output format: text, json, or yaml")
}

func outputFormat(cmd *cobra.Command) (string, error) {
	f, _ := cmd.Flags().GetString("format")
	switch f {
	case formatText, formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported format %q: use text, json, or yaml", f)
	}
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported structured format %q", format)
	}
}

// section prints a bold heading with a count.
func section(w io.Writer, title string, n int) {
	fmt.Fprintf(w, "%s %s\n", headStyle.Render(title), dimStyle.Render(fmt.Sprintf("(%d)", n)))
}

// renderMarkdown renders Markdown for the terminal. It returns text
// unchanged when raw is set, stdout is not a terminal, or rendering fails.
func renderMarkdown(text string, raw bool) string {
	if raw || !isTerminal(os.Stdout) {
		return text
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
