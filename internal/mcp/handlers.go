package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/MikeSquared-Agency/recall/internal/search"
)

type Handlers struct {
	searcher Searcher
}

func NewHandlers(s Searcher) *Handlers {
	return &Handlers{searcher: s}
}

type searchMemoryArgs struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

// SearchMemoryOutput is the payload of a successful search_memory call.
type SearchMemoryOutput struct {
	Query   string       `json:"query"`
	Count   int          `json:"count"`
	Results []search.Hit `json:"results"`
}

// HandleSearchMemory handles the search_memory tool.
func (h *Handlers) HandleSearchMemory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, err := decode[searchMemoryArgs](req)
	if err != nil {
		return errorResult("INVALID_REQUEST", err.Error(), 400), nil
	}
	k := search.DefaultK
	if args.TopK != nil {
		if *args.TopK < 1 {
			return errorResult("INVALID_REQUEST", "top_k must be at least 1", 400), nil
		}
		k = *args.TopK
	}

	hits, err := h.searcher.Search(ctx, args.Query, k)
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		return errorResult("INVALID_REQUEST", "query is required", 400), nil
	case err != nil:
		return errorResult("SEARCH_FAILED", "search backend unavailable", 502), nil
	}

	return successResult(SearchMemoryOutput{Query: args.Query, Count: len(hits), Results: hits})
}

// decode unmarshals MCP request arguments into a typed struct.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	b, err := json.Marshal(req.GetArguments())
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	return result, nil
}

func errorResult(code, message string, status int) *mcp.CallToolResult {
	content, _ := json.Marshal(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
			"status":  status,
		},
	})
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
