// Package agent implements the single-agent runtime and crew orchestration
// on top of toolloop's ReAct loop: a four-step pipeline (reasoning, an
// optional RAG search, LLM generation via the tool loop, final synthesis)
// grounded on reasoning.Engine.Reason's round-by-round bookkeeping, widened
// from "reasoning round" to "pipeline step".
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/bbiangul/ragcore"
	"github.com/bbiangul/ragcore/llmprovider"
	"github.com/bbiangul/ragcore/ragengine"
	"github.com/bbiangul/ragcore/toolloop"
)

// RunMode is how a Crew dispatches its members.
type RunMode string

const (
	ModeSequential   RunMode = "Sequential"
	ModeHierarchical RunMode = "Hierarchical"
)

// Definition is a persisted agent's configuration (spec.md §4.11, §6 agent
// CRUD).
type Definition struct {
	ID            string
	Name          string
	Description   string
	SystemPrompt  string
	ToolIDs       []string
	AutoUseRAG    bool
	MaxToolCalls  int
	TimeoutSeconds int
	SpaceID       string
}

// Step is one recorded stage of a run, shaped after reasoning.Step but
// generalized from "reasoning round" to "pipeline step" with a string
// chunk-ID model instead of the teacher's int64 one.
type Step struct {
	Name       string
	Action     string
	Input      string
	Output     string
	ToolUsed   string
	DurationMs int64
}

// Result is what Run returns; CrewResult holds one per crew member.
type Result struct {
	Content    string
	Steps      []Step
	ToolsUsed  []string
	Success    bool
	Error      string
}

// CrewResult aggregates a Crew run.
type CrewResult struct {
	MemberResults []Result
	TotalDuration time.Duration
}

// Runtime executes a single Definition's four-step pipeline.
type Runtime struct {
	provider llmprovider.Provider
	registry *toolloop.Registry
	search   *ragengine.Search
	cfg      ragcore.AgentRunConfig
}

// NewRuntime wires the agent runtime. search may be nil for agents that
// never need RAG context.
func NewRuntime(provider llmprovider.Provider, registry *toolloop.Registry, search *ragengine.Search, cfg ragcore.AgentRunConfig) *Runtime {
	return &Runtime{provider: provider, registry: registry, search: search, cfg: cfg}
}

var visualKeywords = []string{"draw", "diagram", "picture", "image", "photo", "chart", "visualize", "render", "screenshot"}

func isVisualQuery(q string) bool {
	lower := strings.ToLower(q)
	for _, kw := range visualKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// Run executes the four-step pipeline: Reasoning (build the system
// prompt), optional RAGSearch (skipped for visually-oriented queries or
// when AutoUseRAG is false), LLMGeneration (the tool loop, with prior RAG
// results and crew_previous_outputs folded into the user turn), and
// FinalSynthesis (the tool loop's content, or a degraded concatenation of
// step outputs if generation produced nothing).
func (rt *Runtime) Run(ctx context.Context, def Definition, query string, crewPreviousOutputs string, cancel *atomic.Bool, emitter toolloop.Emitter) (Result, error) {
	var steps []Step
	start := time.Now()

	reasoningStart := time.Now()
	systemPrompt := def.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = fmt.Sprintf("You are %s. %s", def.Name, def.Description)
	}
	steps = append(steps, Step{Name: "Reasoning", Action: "build system prompt", Output: systemPrompt, DurationMs: time.Since(reasoningStart).Milliseconds()})

	var ragContext string
	if def.AutoUseRAG && rt.search != nil && !isVisualQuery(query) {
		ragStart := time.Now()
		results, err := rt.search.SearchComprehensive(ctx, query, 8, def.SpaceID)
		dur := time.Since(ragStart).Milliseconds()
		if err != nil {
			steps = append(steps, Step{Name: "RAGSearch", Action: "search", Input: query, Output: "error: " + err.Error(), DurationMs: dur})
		} else {
			ragContext = formatRAGContext(results)
			steps = append(steps, Step{Name: "RAGSearch", Action: "search", Input: query, Output: fmt.Sprintf("%d results", len(results)), DurationMs: dur})
		}
	}

	userContent := query
	if ragContext != "" {
		userContent = "Relevant context:\n" + ragContext + "\n\nQuery: " + query
	}
	if crewPreviousOutputs != "" {
		userContent = "Prior crew output:\n" + crewPreviousOutputs + "\n\n" + userContent
	}

	messages := []llmprovider.Message{
		{Role: llmprovider.RoleSystem, Content: systemPrompt},
		{Role: llmprovider.RoleUser, Content: userContent},
	}

	maxToolCalls := def.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = rt.cfg.DefaultMaxToolCalls
	}
	timeoutSecs := def.TimeoutSeconds
	if timeoutSecs <= 0 {
		timeoutSecs = rt.cfg.DefaultTimeoutSeconds
	}

	runCtx := ctx
	var cancelTimeout context.CancelFunc
	if timeoutSecs > 0 {
		runCtx, cancelTimeout = context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
		defer cancelTimeout()
	}

	genStart := time.Now()
	toolResult, err := toolloop.RunToolLoop(runCtx, rt.provider, rt.registry, messages, toolloop.Config{
		MaxIterations: maxToolCalls,
		ToolTimeout:   time.Duration(rt.cfg.ToolTimeoutSeconds) * time.Second,
	}, cancel, emitter)
	genDuration := time.Since(genStart).Milliseconds()

	var toolsUsed []string
	for _, inv := range toolResult.Invocations {
		toolsUsed = append(toolsUsed, inv.ToolID)
	}

	if err != nil {
		steps = append(steps, Step{Name: "LLMGeneration", Action: "tool loop", Input: userContent, Output: "error: " + err.Error(), DurationMs: genDuration})
		errMsg := err.Error()
		if cancel != nil && cancel.Load() {
			errMsg = "Cancelled"
		}
		return Result{
			Content:   synthesize(steps, ""),
			Steps:     steps,
			ToolsUsed: toolsUsed,
			Success:   false,
			Error:     errMsg,
		}, nil
	}
	steps = append(steps, Step{Name: "LLMGeneration", Action: "tool loop", Input: userContent, Output: toolResult.Content, DurationMs: genDuration})

	synthStart := time.Now()
	final := synthesize(steps, toolResult.Content)
	steps = append(steps, Step{Name: "FinalSynthesis", Action: "select output", Output: final, DurationMs: time.Since(synthStart).Milliseconds()})

	_ = start
	return Result{Content: final, Steps: steps, ToolsUsed: toolsUsed, Success: true}, nil
}

// synthesize prefers the LLM's own content; when generation produced
// nothing (empty content, or failure), it degrades to concatenating the
// non-empty outputs of earlier steps (spec.md §4.11: "degrades to
// concatenating step outputs").
func synthesize(steps []Step, genContent string) string {
	if strings.TrimSpace(genContent) != "" {
		return genContent
	}
	var parts []string
	for _, s := range steps {
		if s.Name != "FinalSynthesis" && strings.TrimSpace(s.Output) != "" {
			parts = append(parts, s.Output)
		}
	}
	return strings.Join(parts, "\n\n")
}

func formatRAGContext(results []ragengine.ComprehensiveResult) string {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "[%d] %s\n%s\n\n", i+1, r.Title, r.Snippet)
	}
	return b.String()
}
