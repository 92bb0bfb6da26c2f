// Package chat is the single entrypoint the rest of the system talks to:
// Engine.Process resolves intent, dispatches to a handler, and returns a
// grounded, citation-validated AssistantResponse. Grounded on
// reasoning.Engine.Reason's prompt-assembly style, widened from a single
// "reason about retrieved chunks" path into the full intent-dispatch
// surface spec.md §4.12 describes.
package chat

import (
	"time"

	"github.com/bbiangul/ragcore/llmprovider"
)

// Intent is the chat engine's routing decision (spec.md §4.12).
type Intent string

const (
	IntentSearch          Intent = "Search"
	IntentCodeGeneration  Intent = "CodeGeneration"
	IntentGeneral         Intent = "General"
	IntentAgentCreation   Intent = "AgentCreation"
	IntentToolAction      Intent = "ToolAction"
	IntentAgentChat       Intent = "AgentChat"
)

// ChatContext is the per-call request context (spec.md §6's chat()
// command body).
type ChatContext struct {
	SpaceID        string
	AgentID        string
	ConversationID string
	SessionID      string
	History        []llmprovider.Message
	SystemPrompt   string
	MaxResults     int
}

// Artifact is one structured block extracted from the assistant's raw
// response (spec.md §6: <artifact> tag family).
type Artifact struct {
	ID       string
	Type     string
	Language string
	Title    string
	Content  string
}

// ResponseMetadata carries the bookkeeping spec.md §4.12 asks every
// response to fill in.
type ResponseMetadata struct {
	Model             string
	InputTokens       int
	OutputTokens      int
	DurationMs        int64
	Intent            Intent
	RouterTokens      int
	RerankLatencyMs   int64
	SearchQueriesUsed []string
}

// Citation locates one numbered source in the final answer.
type Citation struct {
	Number int
	Title  string
	Source string
}

// AssistantResponse is what Engine.Process returns.
type AssistantResponse struct {
	Content      string
	Citations    []Citation
	Artifacts    []Artifact
	SearchResults int
	Metadata     ResponseMetadata
	Warning      string
}

// Emitter streams progress events during Process — tool_execution,
// agent_execution_started/_complete, agent_creation_progress — matching
// spec.md §6's event stream names. Answer text is returned whole, not
// emitted as chat_token events. Optional; pass nil to run without events.
type Emitter interface {
	Emit(name string, payload map[string]any)
}

func now() time.Time { return time.Now() }
