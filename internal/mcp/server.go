// Package mcp exposes the library to MCP clients over stdio.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"

	"github.com/ziadkadry99/biblioteca/internal/auth"
	"github.com/ziadkadry99/biblioteca/internal/library"
	"github.com/ziadkadry99/biblioteca/internal/rag"
)

// Version is set via ldflags at build time.
var Version = "dev"

// Library is the part of the library service the tools use.
type Library interface {
	Search(ctx context.Context, req library.SearchRequest) ([]library.SearchHit, error)
	List(ctx context.Context, tag string) ([]library.Document, error)
	Get(ctx context.Context, id string) (*library.Document, error)
}

// Answerer answers questions in either mode.
type Answerer interface {
	Answer(ctx context.Context, p auth.Principal, req rag.Request) (*rag.Response, error)
}

// Server wraps an MCP server that exposes library tools.
type Server struct {
	library   Library
	answerer  Answerer
	principal auth.Principal
	mcp       *server.MCPServer
}

// NewServer creates an MCP server. Every tool call acts as principal, so
// analysis tools only succeed when it holds an elevated role.
func NewServer(lib Library, answerer Answerer, principal auth.Principal) *Server {
	s := &Server{
		library:   lib,
		answerer:  answerer,
		principal: principal,
	}

	s.mcp = server.NewMCPServer(
		"biblioteca",
		Version,
		server.WithToolCapabilities(false),
	)

	s.registerTools()

	return s
}

// registerTools adds all tool definitions and their handlers to the MCP server.
func (s *Server) registerTools() {
	s.mcp.AddTool(searchLibraryTool, s.handleSearchLibrary)
	s.mcp.AddTool(askLibraryTool, s.handleAskLibrary)
	s.mcp.AddTool(listDocumentsTool, s.handleListDocuments)
	s.mcp.AddTool(getDocumentTool, s.handleGetDocument)
	s.mcp.AddTool(analyzeProgressTool, s.handleAnalyzeProgress)
}

// Serve starts the MCP server on stdio. Stdout is used for MCP protocol
// messages; all logging must go to stderr.
func (s *Server) Serve() error {
	return server.ServeStdio(s.mcp)
}
