package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bbiangul/ragcore/ragengine"
	"github.com/bbiangul/ragcore/toolloop"
)

// ragSearchTool is the one tool every engine registers at startup: it lets
// the model call back into its own corpus mid-loop (spec.md §4.10: "the RAG
// engine is injected so tools (e.g. rag_search) can call back into it").
type ragSearchTool struct {
	search *ragengine.Search
}

func newRAGSearchTool(search *ragengine.Search) *ragSearchTool {
	return &ragSearchTool{search: search}
}

func (t *ragSearchTool) ID() string { return "rag_search" }

func (t *ragSearchTool) Description() string {
	return "Search the ingested document corpus for passages relevant to a query."
}

func (t *ragSearchTool) ParametersSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "search query"},
			"k":     map[string]any{"type": "integer", "description": "max results, default 5"},
		},
		"required": []string{"query"},
	}
}

func (t *ragSearchTool) Execute(ctx context.Context, inputJSON string, tc toolloop.ToolContext) (toolloop.ToolResult, error) {
	var in struct {
		Query string `json:"query"`
		K     int    `json:"k"`
	}
	if err := json.Unmarshal([]byte(inputJSON), &in); err != nil {
		return toolloop.ToolResult{}, fmt.Errorf("rag_search: invalid input: %w", err)
	}
	if in.Query == "" {
		return toolloop.ToolResult{Success: false, OutputText: "query is required"}, nil
	}
	k := in.K
	if k <= 0 {
		k = 5
	}

	results, err := t.search.SearchComprehensive(ctx, in.Query, k, tc.SpaceID)
	if err != nil {
		return toolloop.ToolResult{Success: false, OutputText: "search failed: " + err.Error()}, nil
	}
	if len(results) == 0 {
		return toolloop.ToolResult{Success: true, OutputText: "no results found"}, nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s (%s)\n%s\n\n", i+1, r.Title, r.Source, r.Snippet)
	}
	data, _ := json.Marshal(results)
	return toolloop.ToolResult{Success: true, OutputText: b.String(), DataJSON: string(data)}, nil
}
