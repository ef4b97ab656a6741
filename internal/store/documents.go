package store

import (
	"context"
	"fmt"

	"github.com/rahul/billagent/internal/agent"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

// Documents adapts VectorStore to the executor's document store.
type Documents struct {
	Vectors *VectorStore
}

func NewDocuments(vectors *VectorStore) *Documents {
	return &Documents{Vectors: vectors}
}

func (d *Documents) Save(ctx context.Context, text string, metadata map[string]any) (string, error) {
	ids, err := d.Vectors.AddDocuments(ctx, []schema.Document{{PageContent: text, Metadata: metadata}})
	if err != nil {
		return "", err
	}
	if len(ids) != 1 {
		return "", fmt.Errorf("expected one id, got %d", len(ids))
	}
	return ids[0], nil
}

func (d *Documents) Search(ctx context.Context, query string, filters map[string]any, topK int) ([]agent.SearchHit, error) {
	opts := vectorstores.Options{}
	if len(filters) > 0 {
		opts.Filters = filters
	}
	found, err := d.Vectors.search(ctx, query, topK, opts)
	if err != nil {
		return nil, err
	}
	hits := make([]agent.SearchHit, len(found))
	for i, f := range found {
		hits[i] = agent.SearchHit{
			ID:       f.id,
			Text:     f.doc.PageContent,
			Metadata: f.doc.Metadata,
			Score:    float64(f.doc.Score),
		}
	}
	return hits, nil
}
