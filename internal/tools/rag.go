package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/vectorstores"
)

// RAGTool lets the responder look up stored bills and mail.
type RAGTool struct {
	Store vectorstores.VectorStore
	TopK  int
}

func NewRAGTool(store vectorstores.VectorStore) *RAGTool {
	return &RAGTool{Store: store, TopK: 5}
}

func (r *RAGTool) Name() string {
	return "rag"
}

func (r *RAGTool) Description() string {
	return "Search stored bills, orders and emails by meaning. Optionally restrict to a category or vendor."
}

func (r *RAGTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The natural language query to search for",
			},
			"category": map[string]any{
				"type":        "string",
				"description": "Only documents of this mail category, e.g. bills",
			},
			"vendor": map[string]any{
				"type":        "string",
				"description": "Only records from this vendor",
			},
		},
		"required": []string{"query"},
	}
}

func (r *RAGTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query    string `json:"query"`
		Category string `json:"category"`
		Vendor   string `json:"vendor"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	filters := map[string]any{}
	if args.Category != "" {
		filters["category"] = args.Category
	}
	if args.Vendor != "" {
		filters["vendor"] = args.Vendor
	}
	var opts []vectorstores.Option
	if len(filters) > 0 {
		opts = append(opts, vectorstores.WithFilters(filters))
	}

	docs, err := r.Store.SimilaritySearch(ctx, args.Query, r.TopK, opts...)
	if err != nil {
		return "", fmt.Errorf("document search failed: %w", err)
	}
	if len(docs) == 0 {
		return "No documents found.", nil
	}

	var b strings.Builder
	for i, d := range docs {
		fmt.Fprintf(&b, "[%d] (score %.2f)\n%s\n\n", i+1, d.Score, d.PageContent)
	}
	return strings.TrimSpace(b.String()), nil
}
