package llmprovider

import "context"

// ChatAdapter exposes a Provider through the narrow single-turn
// system+user prompt shape that reranker.Chat and query.Chat expect,
// so those packages stay free of this package's full tool/streaming
// surface.
type ChatAdapter struct {
	Provider Provider
	GenConfig GenConfig
}

// Chat issues one non-streaming call with a system and user message.
func (a ChatAdapter) Chat(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := a.Provider.Chat(ctx, []Message{
		{Role: RoleSystem, Content: systemPrompt},
		{Role: RoleUser, Content: userPrompt},
	}, nil, a.GenConfig)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// EmbedAdapter exposes a Provider's embedding capability through
// embedding.Provider's narrow interface. Only providers with an /embeddings
// endpoint (the OpenAI-compat family) implement Embed; calling this
// against one that doesn't returns an error from the underlying provider.
type EmbedAdapter struct {
	base *openAICompatClient
}

// NewEmbedAdapter wraps an OpenAI-compat provider for embedding calls.
// Anthropic has no embeddings endpoint, so there is no adapter path for it.
func NewEmbedAdapter(cfg Config) *EmbedAdapter {
	client := newOpenAICompatClient(cfg)
	return &EmbedAdapter{base: &client}
}

func (a *EmbedAdapter) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return a.base.embed(ctx, texts)
}
