// Package llmprovider is the unified chat/generate/stream contract every
// model backend speaks, translating each provider's tool-call dialect
// (OpenAI tools/tool_calls, Anthropic tool_use/tool_result) behind one
// interface. Gemini is reached through its OpenAI-compatible endpoint, so
// it uses the OpenAI dialect rather than functionCall/functionResponse.
// It supersedes
// llm.Provider, whose Chat/Embed pair has no notion of tools or streaming.
package llmprovider

import "context"

// Role identifies who sent a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one function invocation a model emitted.
type ToolCall struct {
	ID           string
	Name         string
	ArgumentsRaw string // raw JSON
}

// Message is one turn, tagged-union-shaped: Content for plain text,
// ToolCalls for an assistant turn requesting tool execution, ToolCallID+
// Name for a tool-result turn correlated back to its ToolCall.
type Message struct {
	Role       Role
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	Name       string
}

// ToolSchema is a JSON-Schema function definition a provider can be
// offered, shared verbatim with toolloop.Tool.ParametersSchema.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// GenConfig is per-call generation tuning.
type GenConfig struct {
	Temperature float64
	MaxTokens   int
	TopP        float64
	TopK        int
}

// ChatResponse carries the model's text in Content and any requested tool
// invocations in ToolCalls; a response may populate either or both.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	Model        string
	PromptTokens int
	CompletionTokens int
	TotalTokens  int
}

// EventKind tags a streamed chat event.
type EventKind string

const (
	EventContentDelta    EventKind = "ContentDelta"
	EventToolCallComplete EventKind = "ToolCallComplete"
	EventDone            EventKind = "Done"
)

// Event is one item from ChatStream.
type Event struct {
	Kind    EventKind
	Delta   string
	ToolCall ToolCall
}

// Info describes a provider's static capabilities.
type Info struct {
	Name               string
	Model              string
	ContextWindow      int
	SupportsStreaming  bool
	SupportsFunctions  bool
	IsLocal            bool
}

// Provider is the contract every model backend implements.
type Provider interface {
	Generate(ctx context.Context, prompt string, cfg GenConfig) (string, error)
	GenerateStream(ctx context.Context, prompt string, cfg GenConfig) (<-chan string, <-chan error)
	Chat(ctx context.Context, messages []Message, tools []ToolSchema, cfg GenConfig) (ChatResponse, error)
	ChatStream(ctx context.Context, messages []Message, tools []ToolSchema, cfg GenConfig) (<-chan Event, <-chan error)
	Info() Info
	MemoryUsage() int64
	IsReady(ctx context.Context) bool
}

// Failure kinds (spec.md §4.9, §7). NotConfigured/Timeout/ConnectError are
// sentinels; UpstreamInvalidResponse/UpstreamError carry detail and are
// defined as types so callers can type-assert.
var (
	ErrNotConfigured = providerError("llmprovider: not configured")
	ErrTimeout       = providerError("llmprovider: timeout")
	ErrConnectError  = providerError("llmprovider: connect error")
)

type providerError string

func (e providerError) Error() string { return string(e) }

// UpstreamInvalidResponse means the upstream returned something that isn't
// the expected JSON shape — commonly an HTML error page from a
// misconfigured base URL or an expired load balancer session.
type UpstreamInvalidResponse struct {
	Preview string
}

func (e UpstreamInvalidResponse) Error() string {
	return "llmprovider: upstream returned non-JSON response: " + e.Preview
}

// UpstreamError wraps a well-formed error response from the upstream API.
type UpstreamError struct {
	Status int
	Body   string
}

func (e UpstreamError) Error() string {
	return "llmprovider: upstream error"
}
