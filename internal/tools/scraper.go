package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
)

const maxPageChars = 20000

var (
	strictPolicy = bluemonday.StrictPolicy()
	blankRuns    = regexp.MustCompile(`[ \t\r\f\v]+`)
	lineRuns     = regexp.MustCompile(`\n{3,}`)
	blockTags    = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/tr|/li|/h[1-6])\s*/?>`)
	// placeholder base for readability when a mail body has no URL
	mailBase = &url.URL{Scheme: "http", Host: "localhost"}
)

// CleanHTML strips every tag from s and collapses whitespace, keeping line
// breaks at block boundaries.
func CleanHTML(s string) string {
	s = blockTags.ReplaceAllString(s, "\n")
	s = html.UnescapeString(strictPolicy.Sanitize(s))
	s = blankRuns.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(lineRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// ReadableText extracts the main content of an HTML document.
func ReadableText(doc string, pageURL *url.URL) (title string, text string, err error) {
	if pageURL == nil {
		pageURL = mailBase
	}
	article, err := readability.FromReader(strings.NewReader(doc), pageURL)
	if err != nil {
		return "", "", err
	}
	return article.Title, CleanHTML(article.TextContent), nil
}

// MailText converts an HTML mail body to text. Readability output wins when
// it keeps at least half of the stripped text.
func MailText(doc string) string {
	plain := CleanHTML(doc)
	if _, text, err := ReadableText(doc, nil); err == nil && len(text)*2 >= len(plain) {
		return text
	}
	return plain
}

// ScraperTool fetches a page so the responder can check prices or plans.
type ScraperTool struct {
	UserAgent string
	Client    *http.Client
}

func NewScraperTool() *ScraperTool {
	return &ScraperTool{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *ScraperTool) Name() string {
	return "scraper"
}

func (s *ScraperTool) Description() string {
	return "Fetch a webpage URL, such as a pricing page, and extract the main content as clean text."
}

func (s *ScraperTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the webpage to scrape (e.g., https://example.com/pricing)",
			},
		},
		"required": []string{"url"},
	}
}

func (s *ScraperTool) Execute(ctx context.Context, input string) (string, error) {
	var args struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return "", fmt.Errorf("invalid input: %v", err)
	}

	parsedURL, err := url.Parse(args.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %v", err)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return "", fmt.Errorf("unsupported URL scheme %q", parsedURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, args.URL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %v", err)
	}
	req.Header.Set("User-Agent", s.UserAgent)

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch URL: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch URL: status code %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsedURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse article: %v", err)
	}

	output := fmt.Sprintf("TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		output += fmt.Sprintf("EXCERPT: %s\n", article.Excerpt)
	}
	output += "\n-- CONTENT --\n"

	content := CleanHTML(article.TextContent)
	if r := []rune(content); len(r) > maxPageChars {
		content = string(r[:maxPageChars]) + "\n... (content truncated) ..."
	}
	return output + content, nil
}
