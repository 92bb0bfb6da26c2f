package llmprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Config is a provider endpoint's connection detail.
type Config struct {
	Provider      string
	Model         string
	BaseURL       string
	APIKey        string
	ContextWindow int
	IsLocal       bool
}

// openAICompatClient is the shared base for OpenAI-dialect providers
// (OpenAI, Groq, xAI, OpenRouter, Ollama, LM Studio, Gemini's compat
// endpoint). Ported from llm.openAICompatClient, extended with tool-call
// marshaling and SSE streaming — the retry/backoff logic in doPost is kept
// unchanged since it has no spec-level semantics to revise.
type openAICompatClient struct {
	cfg        Config
	client     *http.Client
	pathPrefix string
}

func newOpenAICompatClient(cfg Config) openAICompatClient {
	return newOpenAICompatClientPrefix(cfg, "/v1")
}

func newOpenAICompatClientPrefix(cfg Config, prefix string) openAICompatClient {
	return openAICompatClient{
		cfg:        cfg,
		pathPrefix: prefix,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

// NewOpenAICompat returns a Provider speaking the OpenAI dialect against
// cfg.BaseURL.
func NewOpenAICompat(cfg Config) Provider {
	return &openAICompatProvider{base: newOpenAICompatClient(cfg), cfg: cfg}
}

// NewGemini returns a Provider for Google Gemini's OpenAI-compatible
// endpoint (tool-call translation happens at the wire level the same way
// as any other OpenAI-dialect provider; functionCall/functionResponse is
// Gemini's *native* API shape, which this compat endpoint normalizes away).
func NewGemini(cfg Config) Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	return &openAICompatProvider{base: newOpenAICompatClientPrefix(cfg, ""), cfg: cfg}
}

type openAICompatProvider struct {
	base openAICompatClient
	cfg  Config
}

func (p *openAICompatProvider) Generate(ctx context.Context, prompt string, cfg GenConfig) (string, error) {
	resp, err := p.Chat(ctx, []Message{{Role: RoleUser, Content: prompt}}, nil, cfg)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (p *openAICompatProvider) GenerateStream(ctx context.Context, prompt string, cfg GenConfig) (<-chan string, <-chan error) {
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

func (p *openAICompatProvider) Chat(ctx context.Context, messages []Message, tools []ToolSchema, cfg GenConfig) (ChatResponse, error) {
	body := p.buildRequest(messages, tools, cfg, false)
	respBody, err := p.base.doPost(ctx, p.base.pathPrefix+"/chat/completions", body)
	if err != nil {
		return ChatResponse{}, err
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return ChatResponse{}, UpstreamInvalidResponse{Preview: preview(respBody)}
	}
	if len(resp.Choices) == 0 {
		return ChatResponse{}, fmt.Errorf("llmprovider: no choices in response")
	}

	choice := resp.Choices[0]
	out := ChatResponse{
		Content:          choice.Message.Content,
		Model:            resp.Model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, ArgumentsRaw: tc.Function.Arguments})
	}
	return out, nil
}

// ChatStream requests the provider's SSE stream; when that request fails
// (the upstream doesn't support SSE), it falls back to a non-streaming
// call whose answer is emitted in roughly 30-character pieces split at
// whitespace boundaries (spec.md §4.9).
func (p *openAICompatProvider) ChatStream(ctx context.Context, messages []Message, tools []ToolSchema, cfg GenConfig) (<-chan Event, <-chan error) {
	events := make(chan Event)
	errc := make(chan error, 1)

	body := p.buildRequest(messages, tools, cfg, true)
	go func() {
		defer close(events)
		defer close(errc)

		resp, err := p.base.doStream(ctx, p.base.pathPrefix+"/chat/completions", body)
		if err != nil {
			p.fallbackStream(ctx, messages, tools, cfg, events, errc)
			return
		}
		defer resp.Close()

		scanner := bufio.NewScanner(resp)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var toolCalls []ToolCall
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}
			var chunk streamChunk
			if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
				continue
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				events <- Event{Kind: EventContentDelta, Delta: delta.Content}
			}
			for _, tc := range delta.ToolCalls {
				toolCalls = append(toolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, ArgumentsRaw: tc.Function.Arguments})
			}
		}
		for _, tc := range toolCalls {
			events <- Event{Kind: EventToolCallComplete, ToolCall: tc}
		}
		events <- Event{Kind: EventDone}
	}()
	return events, errc
}

// fallbackStream degrades to a non-streaming call and re-emits its content
// in ~30-char whitespace-aligned chunks, for dialects without SSE support.
func (p *openAICompatProvider) fallbackStream(ctx context.Context, messages []Message, tools []ToolSchema, cfg GenConfig, events chan<- Event, errc chan<- error) {
	resp, err := p.Chat(ctx, messages, tools, cfg)
	if err != nil {
		errc <- err
		return
	}
	for _, chunk := range chunkByWhitespace(resp.Content, 30) {
		events <- Event{Kind: EventContentDelta, Delta: chunk}
	}
	for _, tc := range resp.ToolCalls {
		events <- Event{Kind: EventToolCallComplete, ToolCall: tc}
	}
	events <- Event{Kind: EventDone}
}

func chunkByWhitespace(text string, target int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var chunks []string
	var cur strings.Builder
	for _, w := range words {
		if cur.Len() > 0 && cur.Len()+len(w)+1 > target {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte(' ')
		}
		cur.WriteString(w)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

func (p *openAICompatProvider) Info() Info {
	ctxWindow := p.cfg.ContextWindow
	if ctxWindow == 0 {
		ctxWindow = 128000
	}
	return Info{
		Name:              p.cfg.Provider,
		Model:             p.cfg.Model,
		ContextWindow:     ctxWindow,
		SupportsStreaming: true,
		SupportsFunctions: true,
		IsLocal:           p.cfg.IsLocal,
	}
}

func (p *openAICompatProvider) MemoryUsage() int64 { return 0 }

func (p *openAICompatProvider) IsReady(ctx context.Context) bool {
	return p.cfg.BaseURL != "" && (p.cfg.IsLocal || p.cfg.APIKey != "")
}

// --- wire types ---

type chatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []wireMessage   `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	Tools       []wireTool      `json:"tools,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	Name       string         `json:"name,omitempty"`
}

type wireToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function wireToolCallFunc `json:"function"`
}

type wireToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireTool struct {
	Type     string       `json:"type"`
	Function wireToolSpec `json:"function"`
}

type wireToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string         `json:"content"`
			ToolCalls []wireToolCall `json:"tool_calls"`
		} `json:"delta"`
	} `json:"choices"`
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (p *openAICompatProvider) buildRequest(messages []Message, tools []ToolSchema, cfg GenConfig, stream bool) chatCompletionRequest {
	model := p.cfg.Model

	wireMsgs := make([]wireMessage, len(messages))
	for i, m := range messages {
		wm := wireMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID, Name: m.Name}
		for _, tc := range m.ToolCalls {
			wm.ToolCalls = append(wm.ToolCalls, wireToolCall{
				ID: tc.ID, Type: "function",
				Function: wireToolCallFunc{Name: tc.Name, Arguments: tc.ArgumentsRaw},
			})
		}
		wireMsgs[i] = wm
	}

	var wireTools []wireTool
	for _, t := range tools {
		wireTools = append(wireTools, wireTool{
			Type: "function",
			Function: wireToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters},
		})
	}

	return chatCompletionRequest{
		Model:       model,
		Messages:    wireMsgs,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		TopP:        cfg.TopP,
		Tools:       wireTools,
		Stream:      stream,
	}
}

func (c *openAICompatClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	body := embeddingRequest{Model: c.cfg.Model, Input: texts}
	respBody, err := c.doPost(ctx, c.pathPrefix+"/embeddings", body)
	if err != nil {
		return nil, err
	}

	var resp embeddingResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, UpstreamInvalidResponse{Preview: preview(respBody)}
	}

	embeddings := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < len(embeddings) {
			embeddings[d.Index] = d.Embedding
		}
	}
	return embeddings, nil
}

func preview(body []byte) string {
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// --- retry/backoff, ported unchanged from llm.openAICompatClient.doPost ---

const (
	maxRetries        = 6
	baseRetryDelay    = 2 * time.Second
	minRateLimitDelay = 5 * time.Second
)

func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (c *openAICompatClient) doPost(ctx context.Context, path string, body interface{}) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	url := c.cfg.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseRetryDelay * time.Duration(1<<(attempt-1))
			slog.Warn("llmprovider: retrying request", "url", url, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
			}
			lastErr = fmt.Errorf("%w: %v", ErrConnectError, err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("reading response body: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusOK {
			return respBody, nil
		}

		lastErr = UpstreamError{Status: resp.StatusCode, Body: string(respBody)}
		if !retryableStatusCode(resp.StatusCode) {
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			rateLimitDelay := minRateLimitDelay * time.Duration(1<<attempt)
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
					if headerDelay := time.Duration(seconds) * time.Second; headerDelay > rateLimitDelay {
						rateLimitDelay = headerDelay
					}
				}
			}
			slog.Warn("llmprovider: rate limited, waiting before retry", "url", url, "attempt", attempt+1, "delay", rateLimitDelay)
			select {
			case <-time.After(rateLimitDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, fmt.Errorf("llmprovider: max retries exceeded: %w", lastErr)
}

// doStream issues a streaming POST and returns the raw body reader for SSE
// line scanning, or an error on a non-2xx status. The response content
// type is not checked.
func (c *openAICompatClient) doStream(ctx context.Context, path string, body interface{}) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
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
