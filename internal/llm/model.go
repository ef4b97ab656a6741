package llm

import (
	"context"
	"fmt"

	"github.com/rahul/billagent/pkg/config"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// NewModel builds the chat model for a configured provider. OpenRouter speaks
// the OpenAI protocol behind its own base URL.
func NewModel(name string, p config.ProviderConfig) (*openai.LLM, error) {
	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		if p.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(p.EmbeddingModel))
		}
		return openai.New(opts...)
	}
	return nil, fmt.Errorf("provider %s not yet implemented", name)
}

// NewEmbedder wraps the provider client for the vector store.
func NewEmbedder(client embeddings.EmbedderClient) (embeddings.Embedder, error) {
	e, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(32))
	if err != nil {
		return nil, err
	}
	return e, nil
}

// RateLimited paces every model request through one token bucket.
type RateLimited struct {
	llms.Model
	Limiter *rate.Limiter
}

// NewRateLimited allows rps requests per second with the given burst. A
// non-positive rps disables pacing.
func NewRateLimited(model llms.Model, rps float64, burst int) *RateLimited {
	limit := rate.Limit(rps)
	if rps <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{Model: model, Limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimited) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	if err := r.Limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.Model.GenerateContent(ctx, messages, options...)
}

func (r *RateLimited) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	if err := r.Limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.Model.Call(ctx, prompt, options...)
}
