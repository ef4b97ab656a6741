package tools

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/rahul/billagent/internal/agent"
)

// PDFParser extracts the plain text of a PDF attachment page by page.
type PDFParser struct {
	// MaxPages bounds the pages read from one document; 0 reads all.
	MaxPages int
}

func NewPDFParser() *PDFParser {
	return &PDFParser{MaxPages: 20}
}

func (p *PDFParser) Parse(ctx context.Context, path string) (agent.ParsedDocument, error) {
	doc := agent.ParsedDocument{Path: path}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return doc, fmt.Errorf("not a pdf: %s", filepath.Base(path))
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return doc, fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	doc.Pages = r.NumPage()
	limit := doc.Pages
	if p.MaxPages > 0 && limit > p.MaxPages {
		limit = p.MaxPages
	}

	var b strings.Builder
	for i := 1; i <= limit; i++ {
		if err := ctx.Err(); err != nil {
			return doc, err
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Printf("[PDF] Page %d of %s unreadable: %v", i, filepath.Base(path), err)
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}

	doc.Text = strings.TrimSpace(b.String())
	doc.Success = doc.Text != ""
	return doc, nil
}
