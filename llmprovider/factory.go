package llmprovider

import "fmt"

// New constructs a Provider for cfg.Provider, mirroring llm.NewProvider's
// switch but returning the wider llmprovider.Provider surface (streaming,
// tools) instead of llm.Provider's plain Chat/Embed.
func New(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "gemini":
		return NewGemini(cfg), nil
	case "ollama", "lmstudio":
		cfg.IsLocal = true
		return NewOpenAICompat(cfg), nil
	case "openrouter", "openai", "groq", "xai", "custom", "":
		return NewOpenAICompat(cfg), nil
	default:
		return nil, fmt.Errorf("llmprovider: unknown provider %q", cfg.Provider)
	}
}
