// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"
)

// Export is the full journal snapshot written by ExportYAML and ExportJSON.
type Export struct {
	Documents []DocumentStatus `json:"documents" yaml:"documents"`
	Runs      []Run            `json:"runs" yaml:"runs"`
}

const exportLimit = 100000

// Snapshot collects every document with its cards and the recent runs.
func (s *Store) Snapshot(ctx context.Context) (Export, error) {
	docs, err := s.Documents(ctx)
	if err != nil {
		return Export{}, fmt.Errorf("querying for export: %w", err)
	}
	cards, err := s.Cards(ctx, CardQuery{MaxResults: exportLimit})
	if err != nil {
		return Export{}, fmt.Errorf("querying for export: %w", err)
	}
	byDoc := make(map[string][]CardEntry, len(docs))
	for _, c := range cards {
		byDoc[c.Document] = append(byDoc[c.Document], c)
	}
	for i := range docs {
		docs[i].Cards = byDoc[docs[i].Path]
	}

	runs, err := s.Runs(ctx, exportLimit)
	if err != nil {
		return Export{}, fmt.Errorf("querying for export: %w", err)
	}
	return Export{Documents: docs, Runs: runs}, nil
}

// ExportYAML writes the journal snapshot to w as YAML.
func (s *Store) ExportYAML(ctx context.Context, w io.Writer) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("marshaling YAML: %w", err)
	}
	return enc.Close()
}

// ExportJSON writes the journal snapshot to w as indented JSON.
func (s *Store) ExportJSON(ctx context.Context, w io.Writer) error {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	return nil
}
