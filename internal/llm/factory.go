package llm

import (
	"fmt"
	"os"
)

// NewProvider creates a new LLM provider based on the given provider type and model.
// Supported provider types: "anthropic", "openai", "openrouter", "ollama".
// apiKey is ignored by ollama, whose host comes from OLLAMA_HOST.
func NewProvider(providerType, model, apiKey string) (Provider, error) {
	switch providerType {
	case "anthropic":
		if apiKey == "" {
			return nil, fmt.Errorf("no API key for anthropic: set ANTHROPIC_API_KEY")
		}
		return NewAnthropicProvider(apiKey, model), nil

	case "openai":
		if apiKey == "" {
			return nil, fmt.Errorf("no API key for openai: set OPENAI_API_KEY")
		}
		return NewOpenAIProvider(apiKey, model, ""), nil

	case "openrouter":
		if apiKey == "" {
			return nil, fmt.Errorf("no API key for openrouter: set OPENROUTER_API_KEY")
		}
		return NewOpenRouterProvider(apiKey, model), nil

	case "ollama":
		return NewOllamaProvider(OllamaHost(), model), nil

	default:
		return nil, fmt.Errorf("unsupported provider type: %s", providerType)
	}
}

// OllamaHost returns OLLAMA_HOST or the local default.
func OllamaHost() string {
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		return host
	}
	return "http://localhost:11434"
}
