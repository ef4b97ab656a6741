package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rahul/billagent/internal/agent"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

// Search types accepted by EnhanceQuery.
const (
	SearchGeneral      = "general"
	SearchAlternatives = "alternatives"
	SearchVendor       = "verify_vendor"
	SearchReviews      = "reviews"
)

// EnhanceQuery tunes a query for the kind of search being made.
func EnhanceQuery(query, searchType string) string {
	switch searchType {
	case SearchAlternatives:
		return query + " comparison pricing"
	case SearchVendor:
		return query + " official"
	case SearchReviews:
		return query + " reviews ratings"
	}
	return query
}

type searcher interface {
	Call(ctx context.Context, input string) (string, error)
}

// WebSearch queries DuckDuckGo and parses the result listing.
type WebSearch struct {
	client searcher
}

func NewWebSearch(maxResults int) (*WebSearch, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &WebSearch{client: ddg}, nil
}

func (w *WebSearch) Search(ctx context.Context, query string) ([]agent.WebResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty search query")
	}
	raw, err := w.client.Call(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	return ParseResults(raw), nil
}

// ParseResults reads the "Title: / Description: / URL:" blocks produced by
// the DuckDuckGo tool.
func ParseResults(raw string) []agent.WebResult {
	var out []agent.WebResult
	var cur agent.WebResult
	flush := func() {
		if cur.Title != "" || cur.URL != "" {
			out = append(out, cur)
		}
		cur = agent.WebResult{}
	}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Title:"):
			flush()
			cur.Title = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
		case strings.HasPrefix(line, "Description:"):
			cur.Snippet = strings.TrimSpace(strings.TrimPrefix(line, "Description:"))
		case strings.HasPrefix(line, "URL:"):
			cur.URL = strings.TrimSpace(strings.TrimPrefix(line, "URL:"))
		}
	}
	flush()
	return out
}

// SearchTool exposes WebSearch to the responder.
type SearchTool struct {
	Web *WebSearch
}

func NewSearchTool(web *WebSearch) *SearchTool {
	return &SearchTool{Web: web}
}

func (s *SearchTool) Name() string {
	return "search"
}

func (s *SearchTool) Description() string {
	return "Search the web using DuckDuckGo for prices, alternatives, vendor details or reviews."
}

func (s *SearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to look up",
			},
			"search_type": map[string]any{
				"type": "string",
				"enum": []string{SearchGeneral, SearchAlternatives, SearchVendor, SearchReviews},
			},
		},
		"required": []string{"query"},
	}
}

func (s *SearchTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		Query      string `json:"query"`
		SearchType string `json:"search_type"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	results, err := s.Web.Search(ctx, EnhanceQuery(args.Query, args.SearchType))
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found.", nil
	}
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n   %s\n", i+1, r.Title, r.URL, r.Snippet)
	}
	return b.String(), nil
}
