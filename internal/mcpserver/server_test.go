// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package mcpserver

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/kbsync/internal/cardfile"
	"github.com/pdiddy/kbsync/internal/corpus"
	"github.com/pdiddy/kbsync/internal/synth"
	"github.com/pdiddy/kbsync/internal/syncer"
	"github.com/pdiddy/kbsync/pkg/types"
)

type roleGenerator struct {
	mu    sync.Mutex
	roles []string
}

func (g *roleGenerator) Generate(_ context.Context, req types.GenerationRequest) ([]types.KnowledgeCard, error) {
	g.mu.Lock()
	g.roles = append(g.roles, req.Role)
	g.mu.Unlock()
	return []types.KnowledgeCard{{Title: "Card", Description: "a card", Content: req.Text}}, nil
}

type okValidator struct{}

func (okValidator) Validate(context.Context, types.ValidationRequest) (types.ValidationReport, error) {
	return types.ValidationReport{OK: true}, nil
}

type testEnv struct {
	srv     *Server
	gen     *roleGenerator
	origins string
	cards   string
}

func testServer(t *testing.T) *testEnv {
	t.Helper()
	kb := t.TempDir()
	e := &testEnv{
		gen:     &roleGenerator{},
		origins: filepath.Join(kb, "origins"),
		cards:   filepath.Join(kb, "cards_md"),
	}
	require.NoError(t, os.MkdirAll(e.origins, 0o755))
	c, err := corpus.New(e.origins)
	require.NoError(t, err)
	svc := syncer.New(c, cardfile.NewWriter(e.cards, c.Name(), nil), synth.New(e.gen, okValidator{}))
	e.srv = New(svc, "test", nil)
	return e
}

func (e *testEnv) write(t *testing.T, rel, content string) {
	t.Helper()
	p := filepath.Join(e.origins, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func callTool(t *testing.T, e *testEnv, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	handlers := map[string]func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"kb_read_directory":            e.srv.readDirectory,
		"kb_read_markdown":             e.srv.readMarkdown,
		"kb_analyze_coverage":          e.srv.analyzeCoverage,
		"kb_upsert_cards_for_markdown": e.srv.upsertCards,
		"kb_sync_all":                  e.srv.syncAll,
		"kb_prune":                     e.srv.prune,
	}
	h, ok := handlers[name]
	if !ok {
		t.Fatalf("unknown tool: %s", name)
	}
	result, err := h(ctx, req)
	require.NoError(t, err)
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func decode[T any](t *testing.T, r *mcp.CallToolResult) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(resultText(r)), &v), resultText(r))
	return v
}

func TestReadDirectory(t *testing.T) {
	e := testServer(t)
	e.write(t, "intro.md", "# Intro")
	e.write(t, "ops/runbook.yaml", "steps: []")

	r := callTool(t, e, "kb_read_directory", nil)
	require.False(t, r.IsError, resultText(r))
	l := decode[types.Listing](t, r)
	assert.Equal(t, []string{"origins/intro.md", "origins/ops/runbook.yaml"}, l.Origins)
	assert.Equal(t, 2, l.OriginsCount)
	assert.Equal(t, 0, l.CardsCount)
	assert.Equal(t, e.origins, l.OriginsDir)
}

func TestReadMarkdown(t *testing.T) {
	e := testServer(t)
	e.write(t, "long.md", strings.Repeat("я", 1500))

	t.Run("clamps max_chars to the minimum", func(t *testing.T) {
		r := callTool(t, e, "kb_read_markdown", map[string]any{"origin_rel_path": "long.md", "max_chars": 10})
		require.False(t, r.IsError, resultText(r))
		ex := decode[types.Excerpt](t, r)
		assert.True(t, ex.Truncated)
		assert.Equal(t, strings.Repeat("я", MinMaxChars)+corpus.TruncatedMarker, ex.Content)
		assert.Equal(t, int64(3000), ex.SizeBytes)
	})

	t.Run("default fits the whole document", func(t *testing.T) {
		r := callTool(t, e, "kb_read_markdown", map[string]any{"origin_rel_path": "long.md"})
		ex := decode[types.Excerpt](t, r)
		assert.False(t, ex.Truncated)
		assert.Equal(t, "origins/long.md", ex.Path)
	})

	t.Run("missing path argument", func(t *testing.T) {
		r := callTool(t, e, "kb_read_markdown", map[string]any{})
		assert.True(t, r.IsError)
	})

	t.Run("path escaping the corpus", func(t *testing.T) {
		r := callTool(t, e, "kb_read_markdown", map[string]any{"origin_rel_path": "../cards_md/x.md"})
		assert.True(t, r.IsError)
		assert.Contains(t, resultText(r), corpus.ErrPathEscapes.Error())
	})
}

func TestUpsertAndCoverage(t *testing.T) {
	e := testServer(t)
	e.write(t, "intro.md", "# Intro\nAcme builds rockets.")

	cov := decode[types.CoverageReport](t, callTool(t, e, "kb_analyze_coverage", map[string]any{}))
	assert.Equal(t, []string{"intro.md"}, cov.Missing)

	r := callTool(t, e, "kb_upsert_cards_for_markdown", map[string]any{
		"origin_rel_path": "intro.md",
		"role":            "support engineer",
	})
	require.False(t, r.IsError, resultText(r))
	res := decode[types.UpsertResult](t, r)
	assert.True(t, res.OK)
	assert.Equal(t, 1, res.CardCount)
	assert.Equal(t, []string{"support engineer"}, e.gen.roles)

	cov = decode[types.CoverageReport](t, callTool(t, e, "kb_analyze_coverage", map[string]any{"include_stale": true}))
	assert.Empty(t, cov.Missing)
	assert.Empty(t, cov.Stale)

	again := decode[types.UpsertResult](t, callTool(t, e, "kb_upsert_cards_for_markdown", map[string]any{"origin_rel_path": "intro.md"}))
	assert.True(t, again.Skipped)
	assert.Len(t, e.gen.roles, 1)
}

func TestUpsertMissingDocument(t *testing.T) {
	e := testServer(t)
	r := callTool(t, e, "kb_upsert_cards_for_markdown", map[string]any{"origin_rel_path": "nope.md"})
	assert.True(t, r.IsError)
	res := decode[types.UpsertResult](t, r)
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}

func TestSyncAllAndPrune(t *testing.T) {
	e := testServer(t)
	e.write(t, "a.md", "# A")
	e.write(t, "b.md", "# B")

	report := decode[types.SyncReport](t, callTool(t, e, "kb_sync_all", map[string]any{"force": true}))
	assert.True(t, report.OK)
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, []string{types.DefaultRole, types.DefaultRole}, e.gen.roles)

	require.NoError(t, os.Remove(filepath.Join(e.origins, "b.md")))
	pr := decode[types.PruneReport](t, callTool(t, e, "kb_prune", nil))
	require.Len(t, pr.Removed, 1)
	assert.Contains(t, filepath.Base(pr.Removed[0]), "_b.md")
}
