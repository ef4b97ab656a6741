package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
)

var vocabulary = []string{"netflix", "electric", "water", "bill", "order", "sale", "internet", "streaming"}

// wordEmbedder embeds text as keyword counts over a fixed vocabulary.
type wordEmbedder struct{}

func (wordEmbedder) embed(text string) []float32 {
	v := make([]float32, len(vocabulary))
	for _, w := range strings.Fields(strings.ToLower(text)) {
		for i, k := range vocabulary {
			if strings.Trim(w, ".,!?$") == k {
				v[i]++
			}
		}
	}
	return v
}

func (e wordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.embed(t)
	}
	return out, nil
}

func (e wordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func seedVectors(t *testing.T) *VectorStore {
	t.Helper()
	v := NewVectorStore(openTestDB(t), wordEmbedder{})
	_, err := v.AddDocuments(context.Background(), []schema.Document{
		{PageContent: "Netflix streaming bill", Metadata: map[string]any{"category": "bills", "vendor": "Netflix"}},
		{PageContent: "Electric bill for May", Metadata: map[string]any{"category": "bills", "vendor": "City Power"}},
		{PageContent: "Summer sale on streaming devices", Metadata: map[string]any{"category": "promotions"}},
		{PageContent: "Your order has shipped", Metadata: map[string]any{"category": "orders"}},
	})
	require.NoError(t, err)
	return v
}

func TestVectorStore_RanksBySimilarity(t *testing.T) {
	v := seedVectors(t)

	docs, err := v.SimilaritySearch(context.Background(), "netflix streaming", 2)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "Netflix streaming bill", docs[0].PageContent)
	assert.Equal(t, "Netflix", docs[0].Metadata["vendor"])
	assert.Greater(t, docs[0].Score, docs[1].Score)

	n, err := v.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestVectorStore_Filters(t *testing.T) {
	v := seedVectors(t)

	docs, err := v.SimilaritySearch(context.Background(), "streaming", 10,
		vectorstores.WithFilters(map[string]any{"category": "promotions"}))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Summer sale on streaming devices", docs[0].PageContent)

	docs, err = v.SimilaritySearch(context.Background(), "bill", 10,
		vectorstores.WithFilters(map[string]any{"vendor": "city power"}))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Electric bill for May", docs[0].PageContent)
}

func TestVectorStore_ScoreThreshold(t *testing.T) {
	v := seedVectors(t)
	docs, err := v.SimilaritySearch(context.Background(), "order", 10, vectorstores.WithScoreThreshold(0.5))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "Your order has shipped", docs[0].PageContent)
}

func TestVectorStore_RequiresEmbedder(t *testing.T) {
	v := NewVectorStore(openTestDB(t), nil)
	_, err := v.AddDocuments(context.Background(), []schema.Document{{PageContent: "x"}})
	assert.ErrorIs(t, err, ErrNoEmbedder)

	v.Embedder = nil
	_, err = v.AddDocuments(context.Background(), []schema.Document{{PageContent: "x"}}, vectorstores.WithEmbedder(wordEmbedder{}))
	assert.NoError(t, err)
}

func TestDocuments_SaveAndSearch(t *testing.T) {
	ctx := context.Background()
	d := NewDocuments(NewVectorStore(openTestDB(t), wordEmbedder{}))

	id, err := d.Save(ctx, "Water bill due June 20", map[string]any{"type": "record", "vendor": "Water Co", "amount": 31.5})
	require.NoError(t, err)
	_, err = d.Save(ctx, "Internet bill", map[string]any{"type": "email"})
	require.NoError(t, err)

	hits, err := d.Search(ctx, "water bill", map[string]any{"type": "record"}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
	assert.Equal(t, "Water Co", hits[0].Metadata["vendor"])
	assert.Equal(t, 31.5, hits[0].Metadata["amount"])
	assert.Greater(t, hits[0].Score, 0.5)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 1}))
	assert.Equal(t, []float32{1.5, -2}, decodeVector(encodeVector([]float32{1.5, -2})))
}
