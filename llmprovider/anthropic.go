package llmprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// anthropicProvider speaks Anthropic's native Messages API, translating
// tool_use/tool_result content blocks to and from the unified Message
// shape. Grounded on original_source's external.rs anthropic_generate/
// stream_anthropic: x-api-key + anthropic-version headers, a system
// message split out of the messages array, and a "message_stop" SSE event
// in place of OpenAI's "[DONE]" sentinel.
type anthropicProvider struct {
	cfg    Config
	client *http.Client
}

// NewAnthropic returns a Provider for Anthropic's Messages API.
func NewAnthropic(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	return &anthropicProvider{cfg: cfg, client: &http.Client{Timeout: 120 * time.Second}}
}

const anthropicVersion = "2023-06-01"

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	TopP        float64            `json:"top_p,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Stream      bool               `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string            `json:"role"`
	Content []anthropicBlock  `json:"content"`
}

type anthropicBlock struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	ToolUseID string         `json:"tool_use_id,omitempty"`
	Content   string         `json:"content,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
	Model   string           `json:"model"`
	Usage   struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (p *anthropicProvider) Generate(ctx context.Context, prompt string, cfg GenConfig) (string, error) {
	resp, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, nil, cfg)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *anthropicProvider) GenerateStream(ctx context.Context, prompt string, cfg GenConfig) (<-chan string, <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)
	events, evErr := p.ChatStream(ctx, []Message{{Role: RoleUser, Content: prompt}}, nil, cfg)
	go func() {
		defer close(out)
		defer close(errc)
		for ev := range events {
			if ev.Kind == EventContentDelta {
				out <- ev.Delta
			}
		}
		if err := <-evErr; err != nil {
			errc <- err
		}
	}()
	return out, errc
}

func (p *anthropicProvider) Chat(ctx context.Context, messages []Message, tools []ToolSchema, cfg GenConfig) (ChatResponse, error) {
	body := p.buildRequest(messages, tools, cfg, false)
	respBody, err := p.doPost(ctx, body)
	if err != nil {
		return ChatResponse{}, err
	}

	var resp anthropicResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return ChatResponse{}, UpstreamInvalidResponse{Preview: preview(respBody)}
	}
	if len(resp.Content) == 0 {
		return ChatResponse{}, fmt.Errorf("llmprovider: anthropic returned empty content array")
	}

	out := ChatResponse{
		Model:            resp.Model,
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
		TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	var text strings.Builder
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			text.WriteString(b.Text)
		case "tool_use":
			args, _ := json.Marshal(b.Input)
			out.ToolCalls = append(out.ToolCalls, ToolCall{ID: b.ID, Name: b.Name, ArgumentsRaw: string(args)})
		}
	}
	out.Content = text.String()
	return out, nil
}

func (p *anthropicProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolSchema, cfg GenConfig) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errc := make(chan error, 1)

	body := p.buildRequest(messages, tools, cfg, true)
	go func() {
		defer close(events)
		defer close(errc)

		stream, err := p.doStream(ctx, body)
		if err != nil {
			resp, cerr := p.Chat(ctx, messages, tools, cfg)
			if cerr != nil {
				errc <- cerr
				return
			}
			for _, chunk := range chunkByWhitespace(resp.Content, 30) {
				events <- Event{Kind: EventContentDelta, Delta: chunk}
			}
			for _, tc := range resp.ToolCalls {
				events <- Event{Kind: EventToolCallComplete, ToolCall: tc}
			}
			events <- Event{Kind: EventDone}
			return
		}
		defer stream.Close()

		scanner := bufio.NewScanner(stream)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		pendingTool := map[int]*ToolCall{}
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			var ev struct {
				Type         string `json:"type"`
				Index        int    `json:"index"`
				Delta        json.RawMessage `json:"delta"`
				ContentBlock *anthropicBlock `json:"content_block"`
			}
			if err := json.Unmarshal([]byte(payload), &ev); err != nil {
				continue
			}
			switch ev.Type {
			case "content_block_start":
				if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
					pendingTool[ev.Index] = &ToolCall{ID: ev.ContentBlock.ID, Name: ev.ContentBlock.Name}
				}
			case "content_block_delta":
				var d struct {
					Type        string `json:"type"`
					Text        string `json:"text"`
					PartialJSON string `json:"partial_json"`
				}
				_ = json.Unmarshal(ev.Delta, &d)
				if d.Text != "" {
					events <- Event{Kind: EventContentDelta, Delta: d.Text}
				}
				if tc, ok := pendingTool[ev.Index]; ok {
					tc.ArgumentsRaw += d.PartialJSON
				}
			case "content_block_stop":
				if tc, ok := pendingTool[ev.Index]; ok {
					events <- Event{Kind: EventToolCallComplete, ToolCall: *tc}
					delete(pendingTool, ev.Index)
				}
			case "message_stop":
				events <- Event{Kind: EventDone}
				return
			}
		}
		events <- Event{Kind: EventDone}
	}()
	return events, errc
}

func (p *anthropicProvider) Info() Info {
	ctxWindow := p.cfg.ContextWindow
	if ctxWindow == 0 {
		ctxWindow = 200000
	}
	return Info{Name: "anthropic", Model: p.cfg.Model, ContextWindow: ctxWindow, SupportsStreaming: true, SupportsFunctions: true}
}

func (p *anthropicProvider) MemoryUsage() int64 { return 0 }

func (p *anthropicProvider) IsReady(ctx context.Context) bool { return p.cfg.APIKey != "" }

func (p *anthropicProvider) buildRequest(messages []Message, tools []ToolSchema, cfg GenConfig, stream bool) anthropicRequest {
	model := p.cfg.Model

	var system string
	var wireMsgs []anthropicMessage
	toolResultsByCall := map[string]string{}
	for _, m := range messages {
		if m.Role == RoleTool {
			toolResultsByCall[m.ToolCallID] = m.Content
		}
	}

	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case RoleTool:
			continue // folded into the preceding assistant turn's tool_use via tool_result blocks below
		case RoleUser:
			wireMsgs = append(wireMsgs, anthropicMessage{Role: "user", Content: []anthropicBlock{{Type: "text", Text: m.Content}}})
		case RoleAssistant:
			blocks := []anthropicBlock{}
			if m.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal([]byte(tc.ArgumentsRaw), &input)
				blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: input})
			}
			wireMsgs = append(wireMsgs, anthropicMessage{Role: "assistant", Content: blocks})
			for _, tc := range m.ToolCalls {
				if result, ok := toolResultsByCall[tc.ID]; ok {
					wireMsgs = append(wireMsgs, anthropicMessage{Role: "user", Content: []anthropicBlock{
						{Type: "tool_result", ToolUseID: tc.ID, Content: result},
					}})
				}
			}
		}
	}

	var wireTools []anthropicTool
	for _, t := range tools {
		wireTools = append(wireTools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	return anthropicRequest{
		Model: model, System: system, Messages: wireMsgs,
		MaxTokens: maxTokens, Temperature: cfg.Temperature, TopP: cfg.TopP,
		Tools: wireTools, Stream: stream,
	}
}

func (p *anthropicProvider) doPost(ctx context.Context, body anthropicRequest) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectError, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

func (p *anthropicProvider) doStream(ctx context.Context, body anthropicRequest) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", p.cfg.BaseURL+"/v1/messages", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectError, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(resp.Body)
		return nil, UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return resp.Body, nil
}
