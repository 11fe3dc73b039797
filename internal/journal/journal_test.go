package journal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/kbsync/pkg/types"
)

// --- test helpers ---

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), ".kbsync", "journal.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return s
}

const (
	idA = "0123456789ab"
	idB = "ba9876543210"
)

func sampleResult(origin string) (types.UpsertResult, []types.KnowledgeCard) {
	res := types.UpsertResult{
		OK:          true,
		Origin:      origin,
		Fingerprint: "f00d",
		CardCount:   2,
		Files: []string{
			"/kb/cards_md/card_" + idA + "_intro.md",
			"/kb/cards_md/card_" + idB + "_intro.md",
		},
		Quality: &types.QualityMetadata{
			Judge:             types.ValidationReport{OK: true, Missing: []types.MissingItem{}, SuggestedTitles: []string{}},
			RefinementApplied: true,
			GeneratorCalls:    2,
			ValidatorCalls:    1,
		},
	}
	cards := []types.KnowledgeCard{
		{Title: "Acme overview", Description: "The document contains information about Acme.", KeyTerms: []string{"acme"}, Entities: []string{"Acme Corp"}},
		{Title: "Deployment", KeyTerms: []string{"deploy"}, Entities: []string{}},
	}
	return res, cards
}

// --- schema ---

func TestOpenCreatesSchema(t *testing.T) {
	s := testStore(t)
	for _, table := range []string{"runs", "documents", "cards"} {
		var count int
		err := s.db.QueryRow(
			`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatal(err)
		}
		if count != 1 {
			t.Errorf("table %s not created", table)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 2; i++ {
		s, err := Open(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		s.Close()
	}
}

// --- recording ---

func TestRecordDocument(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	runID, err := s.BeginRun(ctx, "sync")
	if err != nil {
		t.Fatal(err)
	}
	res, cards := sampleResult("intro.md")
	if err := s.RecordDocument(ctx, runID, res, cards); err != nil {
		t.Fatal(err)
	}

	d, err := s.Document(ctx, "intro.md")
	if err != nil {
		t.Fatal(err)
	}
	if d.Fingerprint != "f00d" || d.CardCount != 2 || d.RunID != runID {
		t.Errorf("unexpected document row: %+v", d)
	}
	if !d.JudgeOK || !d.RefinementApplied || d.Placeholder {
		t.Errorf("flags = ok:%v refined:%v placeholder:%v", d.JudgeOK, d.RefinementApplied, d.Placeholder)
	}
	if d.Quality == nil || d.Quality.GeneratorCalls != 2 {
		t.Errorf("quality not round-tripped: %+v", d.Quality)
	}
	if len(d.Cards) != 2 {
		t.Fatalf("cards = %d, want 2", len(d.Cards))
	}
	if d.Cards[0].ID != idA || d.Cards[0].Title != "Acme overview" || d.Cards[0].File != "card_"+idA+"_intro.md" {
		t.Errorf("card[0] = %+v", d.Cards[0])
	}
	if len(d.Cards[1].Entities) != 0 || d.Cards[1].Entities == nil {
		t.Errorf("entities should be an empty list, got %#v", d.Cards[1].Entities)
	}
}

func TestRecordDocumentReplacesCards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	res, cards := sampleResult("intro.md")
	if err := s.RecordDocument(ctx, "", res, cards); err != nil {
		t.Fatal(err)
	}

	res.Files = res.Files[:1]
	res.CardCount = 1
	res.Fingerprint = "beef"
	if err := s.RecordDocument(ctx, "", res, cards[:1]); err != nil {
		t.Fatal(err)
	}

	d, err := s.Document(ctx, "intro.md")
	if err != nil {
		t.Fatal(err)
	}
	if d.Fingerprint != "beef" || len(d.Cards) != 1 {
		t.Errorf("got fingerprint %s with %d cards, want beef with 1", d.Fingerprint, len(d.Cards))
	}
	if d.RunID != "" {
		t.Errorf("run id = %q, want empty", d.RunID)
	}
}

func TestRecordDocumentIgnoresFailedAndSkipped(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for _, res := range []types.UpsertResult{
		{OK: false, Origin: "bad.md", Error: "boom"},
		{OK: true, Skipped: true, Origin: "same.md"},
	} {
		if err := s.RecordDocument(ctx, "", res, nil); err != nil {
			t.Fatal(err)
		}
	}
	docs, err := s.Documents(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 0 {
		t.Errorf("documents = %d, want 0", len(docs))
	}
}

func TestDocumentNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.Document(context.Background(), "nope.md")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestForgetCascadesToCards(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	res, cards := sampleResult("intro.md")
	if err := s.RecordDocument(ctx, "", res, cards); err != nil {
		t.Fatal(err)
	}
	if err := s.Forget(ctx, "intro.md"); err != nil {
		t.Fatal(err)
	}
	left, err := s.Cards(ctx, CardQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("cards left after forget: %d", len(left))
	}
}

// --- runs ---

func TestRunLifecycle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first, err := s.BeginRun(ctx, "upsert")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.BeginRun(ctx, "sync")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FinishRun(ctx, second, types.SyncReport{OK: true, Processed: 3, Failed: 1, Skipped: 1}); err != nil {
		t.Fatal(err)
	}

	runs, err := s.Runs(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != second || runs[0].Processed != 3 || runs[0].Failed != 1 || runs[0].Skipped != 1 {
		t.Errorf("newest run = %+v", runs[0])
	}
	if runs[0].FinishedAt == nil {
		t.Error("finished run has no finish time")
	}
	if runs[1].ID != first || runs[1].FinishedAt != nil {
		t.Errorf("open run = %+v", runs[1])
	}
}

func TestFinishUnknownRun(t *testing.T) {
	s := testStore(t)
	err := s.FinishRun(context.Background(), "missing", types.SyncReport{})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

// --- card queries ---

func TestCardsQuery(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	res, cards := sampleResult("intro.md")
	if err := s.RecordDocument(ctx, "", res, cards); err != nil {
		t.Fatal(err)
	}
	other := types.UpsertResult{
		OK: true, Origin: "ops/runbook.md", Fingerprint: "aa", CardCount: 1,
		Files: []string{"/kb/cards_md/ops/card_cccccccccccc_runbook.md"},
	}
	if err := s.RecordDocument(ctx, "", other, []types.KnowledgeCard{{Title: "100% uptime", KeyTerms: []string{"acme"}}}); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		query CardQuery
		want  []string
	}{
		{"all", CardQuery{}, []string{idA, idB, "cccccccccccc"}},
		{"by document", CardQuery{Document: "intro.md"}, []string{idA, idB}},
		{"key term", CardQuery{Term: "acme"}, []string{idA, "cccccccccccc"}},
		{"entity", CardQuery{Term: "Acme Corp"}, []string{idA}},
		{"title substring", CardQuery{Term: "deploy"}, []string{idB}},
		{"literal percent", CardQuery{Term: "100%"}, []string{"cccccccccccc"}},
		{"limit", CardQuery{MaxResults: 1}, []string{idA}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Cards(ctx, tt.query)
			if err != nil {
				t.Fatal(err)
			}
			var ids []string
			for _, c := range got {
				ids = append(ids, c.ID)
			}
			if len(ids) != len(tt.want) {
				t.Fatalf("ids = %v, want %v", ids, tt.want)
			}
			for i := range ids {
				if ids[i] != tt.want[i] {
					t.Errorf("ids = %v, want %v", ids, tt.want)
					break
				}
			}
		})
	}
}

// --- export ---

func TestExport(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	runID, _ := s.BeginRun(ctx, "sync")
	res, cards := sampleResult("intro.md")
	if err := s.RecordDocument(ctx, runID, res, cards); err != nil {
		t.Fatal(err)
	}

	var jbuf bytes.Buffer
	if err := s.ExportJSON(ctx, &jbuf); err != nil {
		t.Fatal(err)
	}
	var fromJSON Export
	if err := json.Unmarshal(jbuf.Bytes(), &fromJSON); err != nil {
		t.Fatal(err)
	}

	var ybuf bytes.Buffer
	if err := s.ExportYAML(ctx, &ybuf); err != nil {
		t.Fatal(err)
	}
	var fromYAML Export
	if err := yaml.Unmarshal(ybuf.Bytes(), &fromYAML); err != nil {
		t.Fatal(err)
	}

	for name, snap := range map[string]Export{"json": fromJSON, "yaml": fromYAML} {
		if len(snap.Documents) != 1 || len(snap.Documents[0].Cards) != 2 {
			t.Errorf("%s: unexpected documents %+v", name, snap.Documents)
		}
		if len(snap.Runs) != 1 || snap.Runs[0].ID != runID {
			t.Errorf("%s: unexpected runs %+v", name, snap.Runs)
		}
	}
}
