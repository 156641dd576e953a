package llm

import (
	"fmt"
	"os"
)

const (
	defaultOllamaHost = "http://localhost:11434"
	openRouterBaseURL = "https://openrouter.ai/api/v1"
)

// NewProvider creates a provider by type. API keys come from the usual
// environment variables. baseURL may be empty.
// Supported provider types: "anthropic", "openai", "openrouter", "ollama".
func NewProvider(providerType, model, baseURL string) (Provider, error) {
	switch providerType {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("llm: ANTHROPIC_API_KEY environment variable is not set")
		}
		return NewAnthropicProvider(apiKey, model, baseURL), nil

	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("llm: OPENAI_API_KEY environment variable is not set")
		}
		return NewOpenAIProvider(apiKey, model, baseURL), nil

	case "openrouter":
		apiKey := os.Getenv("OPENROUTER_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("llm: OPENROUTER_API_KEY environment variable is not set")
		}
		if baseURL == "" {
			baseURL = openRouterBaseURL
		}
		p := NewOpenAIProvider(apiKey, model, baseURL)
		p.name = "openrouter"
		return p, nil

	case "ollama":
		host := baseURL
		if host == "" {
			host = os.Getenv("OLLAMA_HOST")
		}
		if host == "" {
			host = defaultOllamaHost
		}
		return NewOllamaProvider(host, model), nil

	default:
		return nil, fmt.Errorf("llm: unsupported provider type: %s", providerType)
	}
}
