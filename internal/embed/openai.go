package embed

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/reglens/reglens/internal/model"
)

// openaiDimensions maps known embedding models to their vector widths
var openaiDimensions = map[string]int{
	"text-embedding-3-small": 1536,
	"text-embedding-3-large": 3072,
	"text-embedding-ada-002": 1536,
}

// OpenAIProvider implements the Provider interface over the OpenAI
// embeddings API
type OpenAIProvider struct {
	client *openai.Client
	model  string
	dims   int
}

// NewOpenAIProvider creates a new OpenAI embedding provider
func NewOpenAIProvider(cfg model.EmbeddingConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	name := cfg.Model
	if name == "" {
		name = "text-embedding-3-small"
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  name,
		dims:   openaiDimensions[name], // 0 for unlisted models: width unknown
	}, nil
}

// ModelName returns the embedding model in use
func (p *OpenAIProvider) ModelName() string {
	return p.model
}

// Dimensions returns the vector width for known models
func (p *OpenAIProvider) Dimensions() int {
	return p.dims
}

// Embed requests one embedding from the API
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response")
	}

	return resp.Data[0].Embedding, nil
}
