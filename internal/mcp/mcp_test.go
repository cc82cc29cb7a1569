package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/MikeSquared-Agency/recall/internal/search"
)

type fakeSearcher struct {
	query string
	k     int
	err   error
}

func (f *fakeSearcher) Search(_ context.Context, query string, k int) ([]search.Hit, error) {
	f.query, f.k = query, k
	if f.err != nil {
		return nil, f.err
	}
	if strings.TrimSpace(query) == "" {
		return nil, search.ErrEmptyQuery
	}
	return []search.Hit{
		{Score: 0.8, ConversationID: "c1", Provider: "chatgpt.com", Role: "assistant", Text: "Channels are typed conduits."},
	}, nil
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected text content, got %T", result.Content[0])
	}
	return tc.Text
}

func assertErrorCode(t *testing.T, result *mcp.CallToolResult, code string) {
	t.Helper()
	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal([]byte(resultText(t, result)), &payload); err != nil {
		t.Fatalf("failed to parse error payload: %v", err)
	}
	if payload.Error.Code != code {
		t.Errorf("expected error code %s, got %s", code, payload.Error.Code)
	}
}

func TestHandleSearchMemory(t *testing.T) {
	s := &fakeSearcher{}
	h := NewHandlers(s)

	result, err := h.HandleSearchMemory(context.Background(), makeRequest(map[string]any{
		"query": "what are channels",
		"top_k": float64(3),
	}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got %s", resultText(t, result))
	}
	if s.query != "what are channels" || s.k != 3 {
		t.Errorf("searcher got q=%q k=%d", s.query, s.k)
	}

	var out SearchMemoryOutput
	if err := json.Unmarshal([]byte(resultText(t, result)), &out); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}
	if out.Count != 1 || out.Results[0].ConversationID != "c1" {
		t.Errorf("unexpected output %+v", out)
	}
}

func TestHandleSearchMemory_DefaultTopK(t *testing.T) {
	s := &fakeSearcher{}
	h := NewHandlers(s)

	result, err := h.HandleSearchMemory(context.Background(), makeRequest(map[string]any{"query": "x"}))
	if err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got %s", resultText(t, result))
	}
	if s.k != search.DefaultK {
		t.Errorf("k = %d, want %d", s.k, search.DefaultK)
	}
}

func TestHandleSearchMemory_Errors(t *testing.T) {
	tests := []struct {
		name     string
		args     map[string]any
		searcher *fakeSearcher
		code     string
	}{
		{"missing query", map[string]any{}, &fakeSearcher{}, "INVALID_REQUEST"},
		{"blank query", map[string]any{"query": "  "}, &fakeSearcher{}, "INVALID_REQUEST"},
		{"zero top_k", map[string]any{"query": "x", "top_k": float64(0)}, &fakeSearcher{}, "INVALID_REQUEST"},
		{"wrong type", map[string]any{"query": 42}, &fakeSearcher{}, "INVALID_REQUEST"},
		{"backend down", map[string]any{"query": "x"}, &fakeSearcher{err: errors.New("pg down")}, "SEARCH_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := NewHandlers(tt.searcher).HandleSearchMemory(context.Background(), makeRequest(tt.args))
			if err != nil {
				t.Fatalf("handler returned error: %v", err)
			}
			if !result.IsError {
				t.Fatal("expected error result, got success")
			}
			assertErrorCode(t, result, tt.code)
		})
	}
}

func TestBackendErrorNotLeaked(t *testing.T) {
	h := NewHandlers(&fakeSearcher{err: errors.New("password authentication failed for user recall")})
	result, _ := h.HandleSearchMemory(context.Background(), makeRequest(map[string]any{"query": "x"}))
	if strings.Contains(resultText(t, result), "password") {
		t.Error("backend error details must not reach the client")
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	srv := NewServer(&fakeSearcher{}, "test")
	if srv == nil {
		t.Fatal("expected server")
	}
	if _, ok := toolRegistry["search_memory"]; !ok {
		t.Fatal("search_memory not registered")
	}
	def := toolRegistry["search_memory"].def
	if def.Name != "search_memory" {
		t.Errorf("tool name = %q", def.Name)
	}
	required := def.InputSchema.Required
	if len(required) != 1 || required[0] != "query" {
		t.Errorf("required = %v, want [query]", required)
	}
}
