// Package toolloop is the tool registry and bounded ReAct loop shared by
// agent.Runtime and chat.Engine's ToolAction handler. Grounded on
// picoclaw's pkg/agent AgentLoop.runLLMIteration: call the model, if it
// asks for no tools the turn is done, otherwise execute each tool call and
// feed the results back in, correlated by call ID.
package toolloop

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bbiangul/ragcore/llmprovider"
)

// ToolContext carries request-scoped values a Tool's Execute needs —
// which space/session it's operating in — without coupling the Tool
// interface to chat.ChatContext or agent.AgentContext.
type ToolContext struct {
	SpaceID        string
	SessionID      string
	ConversationID string
}

// ToolResult is what a Tool's Execute call returns (spec.md §4.10).
type ToolResult struct {
	Success    bool
	OutputText string
	DataJSON   string
}

// Tool is one callable action the model can invoke.
type Tool interface {
	ID() string
	Description() string
	ParametersSchema() map[string]any
	Execute(ctx context.Context, inputJSON string, tc ToolContext) (ToolResult, error)
}

// Registry is a read-mostly tool set guarded by a RWMutex — briefly
// written at startup or when a user registers a new agent tool, read on
// every loop iteration. Grounded on picoclaw's ToolRegistry.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.ID()] = t
}

// Get looks up a tool by ID.
func (r *Registry) Get(id string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[id]
	return t, ok
}

// List returns every registered tool.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ToProviderSchemas converts every registered tool to the schema shape
// llmprovider.Provider.Chat expects.
func (r *Registry) ToProviderSchemas() []llmprovider.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]llmprovider.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, llmprovider.ToolSchema{Name: t.ID(), Description: t.Description(), Parameters: t.ParametersSchema()})
	}
	return out
}

// Invocation records one tool call made during a loop run (I10: Iterations
// <= MaxIterations, every Invocation has DurationMs >= 0 and either
// Success or a non-empty Error).
type Invocation struct {
	ToolID     string
	InputJSON  string
	Success    bool
	OutputText string
	Error      string
	DurationMs int64
}

// Result is what RunToolLoop returns.
type Result struct {
	Content     string
	Invocations []Invocation
	Iterations  int
}

// EmitterEvent tags what an Emitter callback received.
type EmitterEvent string

const (
	EventToolStart    EmitterEvent = "ToolStart"
	EventToolComplete EmitterEvent = "ToolComplete"
	EventContentDelta EmitterEvent = "ContentDelta"
)

// Emitter receives progress notifications during the loop, for streaming
// tool_execution events to a chat client. Optional — pass nil to run
// silently.
type Emitter interface {
	Emit(event EmitterEvent, toolID string, detail string)
}

// Config bounds a loop run (spec.md §4.11's DefaultMaxToolCalls/
// ToolTimeoutSeconds, surfaced per-call here since agent.Runtime and
// chat.Engine each pick their own bound from ragcore.AgentRunConfig).
type Config struct {
	MaxIterations int
	ToolTimeout   time.Duration
	GenConfig     llmprovider.GenConfig
}

// RunToolLoop implements spec.md §4.10's bounded ReAct loop: call the
// model, and if it replies with tool calls instead of content, execute
// each one (own timeout per call) and append a tool-result message
// correlated by ID, then loop. Cancel is checked between iterations —
// cooperative, not preemptive, since a tool already running to completion
// finishes before the next check (spec.md §5's atomic-flag-between-
// iterations model).
func RunToolLoop(ctx context.Context, provider llmprovider.Provider, registry *Registry, messages []llmprovider.Message, cfg Config, cancel *atomic.Bool, emitter Emitter) (Result, error) {
	schemas := registry.ToProviderSchemas()
	msgs := append([]llmprovider.Message(nil), messages...)
	var invocations []Invocation

	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	for i := 0; i < maxIter; i++ {
		if cancel != nil && cancel.Load() {
			return Result{Content: "", Invocations: invocations, Iterations: i}, fmt.Errorf("toolloop: cancelled")
		}

		resp, err := provider.Chat(ctx, msgs, schemas, cfg.GenConfig)
		if err != nil {
			return Result{Invocations: invocations, Iterations: i + 1}, err
		}

		if len(resp.ToolCalls) == 0 {
			if emitter != nil && resp.Content != "" {
				emitter.Emit(EventContentDelta, "", resp.Content)
			}
			return Result{Content: resp.Content, Invocations: invocations, Iterations: i + 1}, nil
		}

		msgs = append(msgs, llmprovider.Message{Role: llmprovider.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls})

		for _, tc := range resp.ToolCalls {
			inv := executeOne(ctx, registry, tc, cfg.ToolTimeout, emitter)
			invocations = append(invocations, inv)

			resultText := inv.OutputText
			if !inv.Success {
				resultText = "error: " + inv.Error
			}
			msgs = append(msgs, llmprovider.Message{Role: llmprovider.RoleTool, ToolCallID: tc.ID, Name: tc.Name, Content: resultText})
		}
	}

	last := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == llmprovider.RoleAssistant && msgs[i].Content != "" {
			last = msgs[i].Content
			break
		}
	}
	if last == "" {
		last = "max iterations reached"
	}
	return Result{Content: last, Invocations: invocations, Iterations: maxIter}, nil
}

func executeOne(ctx context.Context, registry *Registry, tc llmprovider.ToolCall, timeout time.Duration, emitter Emitter) Invocation {
	start := time.Now()
	if emitter != nil {
		emitter.Emit(EventToolStart, tc.Name, tc.ArgumentsRaw)
	}

	tool, ok := registry.Get(tc.Name)
	if !ok {
		inv := Invocation{ToolID: tc.Name, InputJSON: tc.ArgumentsRaw, Success: false, Error: fmt.Sprintf("unknown tool %q", tc.Name), DurationMs: time.Since(start).Milliseconds()}
		if emitter != nil {
			emitter.Emit(EventToolComplete, tc.Name, inv.Error)
		}
		return inv
	}

	callCtx := ctx
	var cancelTimeout context.CancelFunc
	if timeout > 0 {
		callCtx, cancelTimeout = context.WithTimeout(ctx, timeout)
		defer cancelTimeout()
	}

	result, err := tool.Execute(callCtx, tc.ArgumentsRaw, ToolContext{})
	duration := time.Since(start).Milliseconds()

	inv := Invocation{ToolID: tc.Name, InputJSON: tc.ArgumentsRaw, DurationMs: duration}
	if err != nil {
		inv.Success = false
		inv.Error = err.Error()
	} else {
		inv.Success = result.Success
		inv.OutputText = result.OutputText
		if !result.Success && inv.Error == "" {
			inv.Error = result.OutputText
			if inv.Error == "" {
				inv.Error = "tool reported failure"
			}
		}
	}

	if emitter != nil {
		detail := inv.OutputText
		if !inv.Success {
			detail = inv.Error
		}
		emitter.Emit(EventToolComplete, tc.Name, detail)
	}
	return inv
}

// marshalArgs is a convenience for Tool implementations building their
// DataJSON field from a Go value.
func marshalArgs(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
