// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package synth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/kbsync/pkg/types"
)

// --- fakes ---

type genReply struct {
	cards []types.KnowledgeCard
	err   error
}

// scriptedGenerator replays one reply per call and records every request.
type scriptedGenerator struct {
	replies  []genReply
	requests []types.GenerationRequest
}

func (g *scriptedGenerator) Generate(_ context.Context, req types.GenerationRequest) ([]types.KnowledgeCard, error) {
	g.requests = append(g.requests, req)
	i := len(g.requests) - 1
	if i >= len(g.replies) {
		return nil, fmt.Errorf("unexpected generator call %d", i+1)
	}
	return g.replies[i].cards, g.replies[i].err
}

type fakeValidator struct {
	report types.ValidationReport
	err    error
	calls  int
	seen   []types.KnowledgeCard
}

func (v *fakeValidator) Validate(_ context.Context, req types.ValidationRequest) (types.ValidationReport, error) {
	v.calls++
	v.seen = req.Cards
	return v.report, v.err
}

type kindError struct{ kind string }

func (e kindError) Error() string { return "boom: " + e.kind }
func (e kindError) Kind() string  { return e.kind }

const acmeText = "# Acme Tool\n\nThe tool is called Acme.\nIt deploys services.\n"

func acmeDoc() types.SourceDocument {
	return types.SourceDocument{Path: "tools/acme.md", Text: acmeText, Fingerprint: strings.Repeat("a", 64)}
}

func card(title, body string) types.KnowledgeCard {
	return types.KnowledgeCard{
		Title:       title,
		Description: LeadIn + " the Acme tool.",
		Content:     body,
		KeyTerms:    []string{"acme"},
		Entities:    []string{"Acme"},
	}
}

var okReport = types.ValidationReport{OK: true, Missing: []types.MissingItem{}, SuggestedTitles: []string{}}

// --- tests ---

func TestRunHappyPath(t *testing.T) {
	gen := &scriptedGenerator{replies: []genReply{{cards: []types.KnowledgeCard{card("Acme", "The tool is called Acme.")}}}}
	val := &fakeValidator{report: okReport}

	res := New(gen, val).Run(context.Background(), acmeDoc(), "role text")

	require.Len(t, res.Cards, 1)
	assert.Equal(t, "Acme", res.Cards[0].Title)
	assert.True(t, res.Quality.Judge.OK)
	assert.False(t, res.Quality.RefinementApplied)
	assert.Equal(t, 1, res.Quality.GeneratorCalls)
	assert.Equal(t, 1, val.calls)
	require.Len(t, gen.requests, 1)
	assert.Equal(t, "role text", gen.requests[0].Role)
	assert.Empty(t, gen.requests[0].Guidance)
	assert.Equal(t, "tools/acme.md", gen.requests[0].DocumentID)
}

func TestRunRetryBound(t *testing.T) {
	marker := []types.KnowledgeCard{card("Acme", FailureMarker)}
	gen := &scriptedGenerator{replies: []genReply{{cards: marker}, {cards: marker}}}
	val := &fakeValidator{report: okReport}

	res := New(gen, val).Run(context.Background(), acmeDoc(), "")

	assert.Len(t, gen.requests, 2, "no third generation call")
	assert.Equal(t, 0, val.calls, "validation skipped")
	require.Len(t, res.Cards, 1)
	assert.Equal(t, "Acme Tool", res.Cards[0].Title, "placeholder title from heading")
	assert.Contains(t, res.Cards[0].Content, FailureMarker)
	assert.Contains(t, res.Cards[0].Description, FailureMarker)
	assert.False(t, res.Quality.Judge.OK)
	assert.True(t, res.Quality.Placeholder)
	assert.Equal(t, "malformed", res.Quality.GenerationError)
	require.Len(t, res.Quality.Judge.Missing, 1)
	assert.True(t, res.Quality.Judge.Missing[0].Diagnostic)
	assert.Equal(t, retryGuidance, gen.requests[1].Guidance)
}

func TestRunRetryRecovers(t *testing.T) {
	tests := []struct {
		name  string
		first genReply
	}{
		{"empty first result", genReply{}},
		{"transport error", genReply{err: errors.New("connection reset")}},
		{"hedging phrase", genReply{cards: []types.KnowledgeCard{card("Acme", "This section NEEDS MORE DETAIL.")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{replies: []genReply{tt.first, {cards: []types.KnowledgeCard{card("Acme", "ok")}}}}
			val := &fakeValidator{report: okReport}

			res := New(gen, val).Run(context.Background(), acmeDoc(), "")

			assert.Len(t, gen.requests, 2)
			assert.Equal(t, 1, val.calls)
			assert.False(t, res.Quality.Placeholder)
			assert.Empty(t, res.Quality.GenerationError)
			assert.Equal(t, "ok", res.Cards[0].Content)
		})
	}
}

func TestRunPlaceholderTitleFallsBackToStem(t *testing.T) {
	gen := &scriptedGenerator{replies: []genReply{{err: kindError{"parse_error"}}, {err: kindError{"parse_error"}}}}
	doc := types.SourceDocument{Path: "notes/setup-guide.md", Text: "no heading here"}

	res := New(gen, &fakeValidator{}).Run(context.Background(), doc, "")

	require.Len(t, res.Cards, 1)
	assert.Equal(t, "setup-guide", res.Cards[0].Title)
	assert.Equal(t, "parse_error", res.Quality.GenerationError)
}

func TestRunRefinementBound(t *testing.T) {
	gap := types.ValidationReport{
		OK:              false,
		Missing:         []types.MissingItem{{What: "deployment", Evidence: "It deploys services."}},
		SuggestedTitles: []string{"Acme deployment"},
	}
	initial := []types.KnowledgeCard{card("Acme", "The tool is called Acme.")}
	refined := []types.KnowledgeCard{card("Acme", "The tool is called Acme."), card("Deploy", "It deploys services.")}

	tests := []struct {
		name        string
		refineReply genReply
		wantApplied bool
		wantErr     string
		wantCards   int
	}{
		{"refinement applied", genReply{cards: refined}, true, "", 2},
		{"refinement empty", genReply{}, false, "", 1},
		{"refinement fails", genReply{err: kindError{"transport_error"}}, false, "transport_error", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{replies: []genReply{{cards: initial}, tt.refineReply}}
			val := &fakeValidator{report: gap}

			res := New(gen, val).Run(context.Background(), acmeDoc(), "")

			assert.Equal(t, 1, val.calls, "validator never re-invoked")
			require.Len(t, gen.requests, 2, "exactly one refinement call")
			assert.Equal(t, tt.wantApplied, res.Quality.RefinementApplied)
			assert.Equal(t, tt.wantErr, res.Quality.RefinementError)
			assert.Len(t, res.Cards, tt.wantCards)
			assert.False(t, res.Quality.Judge.OK)

			refineReq := gen.requests[1]
			assert.Equal(t, initial, refineReq.Existing)
			assert.Contains(t, refineReq.Guidance, "deployment\n  quote: It deploys services.")
			assert.Contains(t, refineReq.Guidance, "Acme deployment")
			assert.Contains(t, refineReq.Guidance, "ONLY the original document")
		})
	}
}

func TestRunFabricatedGapSkipsRefinement(t *testing.T) {
	gen := &scriptedGenerator{replies: []genReply{{cards: []types.KnowledgeCard{card("Acme", "x")}}}}
	val := &fakeValidator{report: types.ValidationReport{
		OK:      false,
		Missing: []types.MissingItem{{What: "name", Evidence: "The tool is called Zenith"}},
	}}

	res := New(gen, val).Run(context.Background(), acmeDoc(), "")

	assert.Len(t, gen.requests, 1)
	assert.True(t, res.Quality.Judge.OK)
	assert.True(t, res.Quality.Judge.Overridden)
	assert.Equal(t, 1, res.Quality.Judge.SanitizedRemoved)
}

func TestRunValidatorFailure(t *testing.T) {
	refined := []types.KnowledgeCard{card("Acme", "x"), card("Acme on Linux", "y")}
	gen := &scriptedGenerator{replies: []genReply{
		{cards: []types.KnowledgeCard{card("Acme", "x")}},
		{cards: refined},
	}}
	val := &fakeValidator{err: fmt.Errorf("judge: %w", context.DeadlineExceeded)}

	res := New(gen, val).Run(context.Background(), acmeDoc(), "")

	assert.Equal(t, "timeout", res.Quality.ValidatorError)
	require.Len(t, res.Quality.Judge.Missing, 1)
	assert.Equal(t, types.Diagnostic("judge_error: timeout"), res.Quality.Judge.Missing[0])
	assert.False(t, res.Quality.Judge.OK)
	assert.False(t, res.Quality.Judge.Overridden)

	assert.Equal(t, 1, val.calls)
	assert.Equal(t, 1, res.Quality.ValidatorCalls)
	require.Len(t, gen.requests, 2)
	assert.Contains(t, gen.requests[1].Guidance, "judge_error: timeout")
	assert.Equal(t, 2, res.Quality.GeneratorCalls)
	assert.True(t, res.Quality.RefinementApplied)
	assert.Equal(t, refined, res.Cards)
}

func TestRunValidatorTransportError(t *testing.T) {
	gen := &scriptedGenerator{replies: []genReply{
		{cards: []types.KnowledgeCard{card("Acme", "x")}},
		{err: errors.New("model unavailable")},
	}}
	val := &fakeValidator{err: errors.New("connection reset")}

	res := New(gen, val).Run(context.Background(), acmeDoc(), "")

	assert.False(t, res.Quality.Judge.OK)
	assert.NotEmpty(t, res.Quality.ValidatorError)
	assert.False(t, res.Quality.RefinementApplied)
	assert.NotEmpty(t, res.Quality.RefinementError)
	require.Len(t, res.Cards, 1)
	assert.Equal(t, "Acme", res.Cards[0].Title)
}

func TestRunTruncatesOversizedCardSet(t *testing.T) {
	var many []types.KnowledgeCard
	for i := 0; i < MaxCards+5; i++ {
		many = append(many, card(fmt.Sprintf("Card %d", i), "body"))
	}
	gen := &scriptedGenerator{replies: []genReply{{cards: many}}}

	res := New(gen, &fakeValidator{report: okReport}).Run(context.Background(), acmeDoc(), "")
	assert.Len(t, res.Cards, MaxCards)
}

func TestRunNormalizesCards(t *testing.T) {
	raw := types.KnowledgeCard{Title: "  Acme ", Description: " d ", Content: "\nbody\n", KeyTerms: []string{"a", " ", ""}, Entities: nil}
	gen := &scriptedGenerator{replies: []genReply{{cards: []types.KnowledgeCard{raw}}}}

	res := New(gen, &fakeValidator{report: okReport}).Run(context.Background(), acmeDoc(), "")

	require.Len(t, res.Cards, 1)
	assert.Equal(t, "Acme", res.Cards[0].Title)
	assert.Equal(t, "body", res.Cards[0].Content)
	assert.Equal(t, []string{"a"}, res.Cards[0].KeyTerms)
	assert.Equal(t, []string{}, res.Cards[0].Entities)
}

func TestRunDelayHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := &scriptedGenerator{}

	start := time.Now()
	res := New(gen, &fakeValidator{}, WithDelay(time.Hour)).Run(ctx, acmeDoc(), "")

	assert.Less(t, time.Since(start), time.Minute)
	assert.Empty(t, gen.requests)
	assert.True(t, res.Quality.Placeholder)
	assert.Equal(t, "canceled", res.Quality.GenerationError)
}

func TestMalformed(t *testing.T) {
	assert.False(t, Malformed(nil))
	assert.False(t, Malformed([]types.KnowledgeCard{card("a", "Acme deploys services.")}))
	assert.True(t, Malformed([]types.KnowledgeCard{card("a", "fine"), {Description: "Not Enough Information here"}}))
	assert.True(t, Malformed([]types.KnowledgeCard{{Description: FailureMarker}}))
}

func TestTitleAndStem(t *testing.T) {
	assert.Equal(t, "Intro", Title("text\n# Intro\n## Sub", "x"))
	assert.Equal(t, "x", Title("## Only sub", "x"))
	assert.Equal(t, "intro", Stem("a/b/intro.md"))
	assert.Equal(t, "config.prod", Stem("config.prod.yaml"))
}

func TestFailureKind(t *testing.T) {
	assert.Equal(t, "", FailureKind(nil))
	assert.Equal(t, "parse_error", FailureKind(fmt.Errorf("wrap: %w", kindError{"parse_error"})))
	assert.Equal(t, "timeout", FailureKind(context.DeadlineExceeded))
	assert.Equal(t, "error", FailureKind(errors.New("x")))
}
