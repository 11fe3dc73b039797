// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package mcpserver exposes the knowledge-card operations as MCP tools
// over stdio.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/pdiddy/kbsync/internal/syncer"
)

// Read limits for kb_read_markdown, in characters.
const (
	DefaultMaxChars = 12000
	MinMaxChars     = 1000
	MaxMaxChars     = 200000
)

const roleHelp = "Optional role of the card writer, e.g. \"support engineer\". Defaults to the configured role."

// Server wraps the MCP server with the kbsync tools.
type Server struct {
	mcp    *server.MCPServer
	svc    *syncer.Service
	logger *zap.Logger
}

// New creates an MCP server with every tool registered.
func New(svc *syncer.Service, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{svc: svc, logger: logger}

	s.mcp = server.NewMCPServer("kbsync", version, server.WithToolCapabilities(false))

	s.mcp.AddTool(mcp.NewTool("kb_read_directory",
		mcp.WithDescription("List the source documents and card files of the knowledge base."),
	), s.readDirectory)

	s.mcp.AddTool(mcp.NewTool("kb_read_markdown",
		mcp.WithDescription("Read a source document. Long documents are cut and end with [TRUNCATED]."),
		mcp.WithString("origin_rel_path", mcp.Required(), mcp.Description("Path relative to the origins directory, e.g. guides/intro.md")),
		mcp.WithNumber("max_chars", mcp.DefaultNumber(DefaultMaxChars), mcp.Min(MinMaxChars), mcp.Max(MaxMaxChars),
			mcp.Description("Maximum number of characters to return")),
	), s.readMarkdown)

	s.mcp.AddTool(mcp.NewTool("kb_analyze_coverage",
		mcp.WithDescription("Report documents without cards, documents whose cards are stale, and unreadable card files."),
		mcp.WithBoolean("include_stale", mcp.DefaultBool(true), mcp.Description("Also compare card fingerprints with the documents")),
	), s.analyzeCoverage)

	s.mcp.AddTool(mcp.NewTool("kb_upsert_cards_for_markdown",
		mcp.WithDescription("Generate, validate and write the knowledge cards of one source document."),
		mcp.WithString("origin_rel_path", mcp.Required(), mcp.Description("Path relative to the origins directory")),
		mcp.WithBoolean("force", mcp.DefaultBool(false), mcp.Description("Regenerate even when the cards are current")),
		mcp.WithString("role", mcp.Description(roleHelp)),
	), s.upsertCards)

	s.mcp.AddTool(mcp.NewTool("kb_sync_all",
		mcp.WithDescription("Synchronize the cards of every source document."),
		mcp.WithBoolean("force", mcp.DefaultBool(false), mcp.Description("Regenerate even when the cards are current")),
		mcp.WithString("role", mcp.Description(roleHelp)),
	), s.syncAll)

	s.mcp.AddTool(mcp.NewTool("kb_prune",
		mcp.WithDescription("Delete card files whose source document no longer exists."),
	), s.prune)

	return s
}

// ServeStdio serves MCP on stdin/stdout until the client disconnects.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func (s *Server) readDirectory(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	l, err := s.svc.Listing()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(l), nil
}

func (s *Server) readMarkdown(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rel, err := req.RequireString("origin_rel_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	maxChars := min(max(req.GetInt("max_chars", DefaultMaxChars), MinMaxChars), MaxMaxChars)

	ex, err := s.svc.Read(rel, maxChars)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(ex), nil
}

func (s *Server) analyzeCoverage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.Coverage(req.GetBool("include_stale", true))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report), nil
}

func (s *Server) upsertCards(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rel, err := req.RequireString("origin_rel_path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.svc.Upsert(ctx, rel, syncer.UpsertOptions{
		Force: req.GetBool("force", false),
		Role:  req.GetString("role", ""),
	})
	if err != nil {
		s.logger.Warn("kb_upsert_cards_for_markdown failed", zap.String("origin", rel), zap.Error(err))
		return errorJSON(res), nil
	}
	return jsonResult(res), nil
}

func (s *Server) syncAll(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report := s.svc.SyncAll(ctx, syncer.SyncOptions{
		Force: req.GetBool("force", false),
		Role:  req.GetString("role", ""),
	})
	if !report.OK {
		return errorJSON(report), nil
	}
	return jsonResult(report), nil
}

func (s *Server) prune(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.svc.Prune(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(report), nil
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorJSON(v any) *mcp.CallToolResult {
	r := jsonResult(v)
	r.IsError = true
	return r
}
