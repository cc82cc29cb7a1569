// Package mcp exposes the indexed conversation history to MCP clients.
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/MikeSquared-Agency/recall/internal/search"
)

// Searcher answers free-text queries.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]search.Hit, error)
}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

var searchMemoryToolDef = mcp.NewTool("search_memory",
	mcp.WithDescription("Search past Claude and ChatGPT conversations for messages similar to the query."),
	mcp.WithString("query", mcp.Required(), mcp.Description("Free-text query")),
	mcp.WithNumber("top_k", mcp.Description("Number of results to return (default 5, max 50)")),
)

var toolRegistry = map[string]toolEntry{
	"search_memory": {
		def:     searchMemoryToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSearchMemory },
	},
}

// NewServer creates an MCP server with recall's tools registered.
func NewServer(s Searcher, version string) *server.MCPServer {
	srv := server.NewMCPServer(
		"recall",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(s)
	for _, entry := range toolRegistry {
		srv.AddTool(entry.def, entry.handler(h))
	}
	return srv
}

// Run serves the MCP tools over stdio until the client disconnects.
func Run(s Searcher, version string) error {
	return server.ServeStdio(NewServer(s, version))
}
