package models

import (
	"fmt"

	"github.com/stepforge/agentd/internal/config"
	"github.com/stepforge/agentd/internal/engine"
)

// NewProvider builds the completion provider selected by the config.
func NewProvider(cfg config.ProviderConfig) (engine.Provider, error) {
	switch cfg.Type {
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		return NewAnthropicProvider(cfg), nil
	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		return NewOpenAIProvider(cfg), nil
	case "ollama":
		return NewOllamaProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
}
