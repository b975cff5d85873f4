package embed

import (
	"fmt"
	"strings"

	"github.com/reglens/reglens/internal/model"
)

// NewProvider creates an embedding provider based on configuration.
// An empty provider name returns (nil, nil): semantic matching is disabled
// and only explicit citation matching runs.
func NewProvider(cfg model.EmbeddingConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		return NewOpenAIProvider(cfg)

	case "ollama":
		return NewOllamaProvider(cfg)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, ollama)", cfg.Provider)
	}
}
