package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ziadkadry99/biblioteca/internal/library"
	"github.com/ziadkadry99/biblioteca/internal/rag"
)

func (s *Server) handleSearchLibrary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: query"), nil
	}

	hits, err := s.library.Search(ctx, library.SearchRequest{
		Query: query,
		Tags:  splitTags(request.GetString("tags", "")),
		TopK:  request.GetInt("limit", 0),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("search failed: %v", err)), nil
	}

	if len(hits) == 0 {
		return mcp.NewToolResultText("No relevant fragments found. The library may be empty; run `biblioteca ingest` to add documents."), nil
	}

	return mcp.NewToolResultText(formatHits(hits)), nil
}

func (s *Server) handleAskLibrary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	question, err := request.RequireString("question")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question"), nil
	}

	resp, err := s.answerer.Answer(ctx, s.principal, rag.Request{
		Question: question,
		Mode:     rag.ModeLibrary,
		Tags:     splitTags(request.GetString("tags", "")),
	})
	if err != nil {
		_, msg := rag.HTTPError(err)
		return mcp.NewToolResultError(msg), nil
	}

	var sb strings.Builder
	sb.WriteString(resp.Library.Answer)
	if len(resp.Library.Sources) > 0 {
		sb.WriteString("\n\nSources:\n")
		for _, src := range resp.Library.Sources {
			fmt.Fprintf(&sb, "- %s (%s)\n", src.Title, src.Author)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleListDocuments(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	docs, err := s.library.List(ctx, request.GetString("tag", ""))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("listing documents failed: %v", err)), nil
	}
	if len(docs) == 0 {
		return mcp.NewToolResultText("The library has no documents."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d document(s):\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(&sb, "- [%s] %s, %s (%s)", d.ID, d.Title, d.Author, d.Kind)
		if len(d.Tags) > 0 {
			fmt.Fprintf(&sb, " tags: %s", strings.Join(d.Tags, ", "))
		}
		sb.WriteString("\n")
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleGetDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: id"), nil
	}

	doc, err := s.library.Get(ctx, id)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("no document with id %q", id)), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("reading document failed: %v", err)), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Title: %s\nAuthor: %s\nKind: %s\n", doc.Title, doc.Author, doc.Kind)
	if doc.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", doc.Description)
	}
	if len(doc.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(doc.Tags, ", "))
	}
	fmt.Fprintf(&sb, "File: %s\nChunks: %d\nUploaded: %s\n", doc.FileName, doc.ChunkCount, doc.UploadedAt.Format("2006-01-02"))
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleAnalyzeProgress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entityID, err := request.RequireString("entity_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: entity_id"), nil
	}

	resp, err := s.answerer.Answer(ctx, s.principal, rag.Request{
		Question: request.GetString("question", ""),
		Mode:     rag.ModeAnalysis,
		EntityID: entityID,
	})
	if err != nil {
		_, msg := rag.HTTPError(err)
		return mcp.NewToolResultError(msg), nil
	}

	a := resp.Analysis
	var sb strings.Builder
	sb.WriteString(a.Answer)
	fmt.Fprintf(&sb, "\n\nProfile: %s, %d record(s)\n", a.Context.EntityAlias, a.Context.RecordCount)
	if len(a.Context.Sources) > 0 {
		sb.WriteString("Sources:\n")
		for _, title := range a.Context.Sources {
			fmt.Fprintf(&sb, "- %s\n", title)
		}
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// formatHits renders fragments for agent consumption.
func formatHits(hits []library.SearchHit) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Found %d fragment(s):\n", len(hits)))

	for i, h := range hits {
		sb.WriteString(fmt.Sprintf("\n--- Fragment %d ---\n", i+1))
		sb.WriteString(fmt.Sprintf("Document: %s (%s)\n", h.ParentTitle, h.ParentAuthor))
		if len(h.Tags) > 0 {
			sb.WriteString(fmt.Sprintf("Tags: %s\n", strings.Join(h.Tags, ", ")))
		}
		sb.WriteString(fmt.Sprintf("Similarity: %.1f%%\n", h.Similarity*100))
		sb.WriteString("\n")
		sb.WriteString(h.ChunkText)
		sb.WriteString("\n")
	}

	return sb.String()
}

func splitTags(raw string) []string {
	var tags []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
