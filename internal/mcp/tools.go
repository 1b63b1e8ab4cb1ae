package mcp

import "github.com/mark3labs/mcp-go/mcp"

var searchLibraryTool = mcp.NewTool("search_library",
	mcp.WithDescription("Semantic search over the reference library. Returns matching fragments with the title and author of their document."),
	mcp.WithString("query",
		mcp.Required(),
		mcp.Description("Natural language search query"),
	),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of fragments to return (default 8)"),
	),
	mcp.WithString("tags",
		mcp.Description("Comma-separated tags; only documents with at least one of them are searched"),
	),
)

var askLibraryTool = mcp.NewTool("ask_library",
	mcp.WithDescription("Ask a question answered from the reference library, citing the documents used."),
	mcp.WithString("question",
		mcp.Required(),
		mcp.Description("The question, in Spanish"),
	),
	mcp.WithString("tags",
		mcp.Description("Comma-separated tags restricting the fragments used"),
	),
)

var listDocumentsTool = mcp.NewTool("list_documents",
	mcp.WithDescription("List the documents in the library, newest first."),
	mcp.WithString("tag",
		mcp.Description("Only list documents with this tag"),
	),
)

var getDocumentTool = mcp.NewTool("get_document",
	mcp.WithDescription("Get the metadata of one library document."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Document id"),
	),
)

var analyzeProgressTool = mcp.NewTool("analyze_progress",
	mcp.WithDescription("Produce a structured progress analysis for one child from their recent session records."),
	mcp.WithString("entity_id",
		mcp.Required(),
		mcp.Description("Profile id of the child"),
	),
	mcp.WithString("question",
		mcp.Description("Specific question for the analysis"),
	),
)
