package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/billagent/internal/agent"
	"github.com/rahul/billagent/internal/observability"
	"github.com/tmc/langchaingo/llms"
)

const maxExtractChars = 8000

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func num(desc string) map[string]any {
	return map[string]any{"type": "number", "description": desc}
}

func list(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}

// schemas maps an extraction schema name to its field definitions.
var schemas = map[string]map[string]any{
	"bill": {
		"vendor":         str("Company or vendor name"),
		"amount":         num("Total amount due"),
		"currency":       str("Currency code, USD when unstated"),
		"due_date":       str("Due date in YYYY-MM-DD format"),
		"bill_date":      str("Invoice date in YYYY-MM-DD format"),
		"category":       str("Category such as utility or subscription"),
		"invoice_number": str("Invoice or account number"),
		"line_items":     list("Summary of main line items"),
	},
	"promotion": {
		"vendor":           str("Company offering the promotion"),
		"promo_code":       str("Discount code if available"),
		"discount_details": str("Description of the discount, e.g. 50% off"),
		"expiration_date":  str("Expiration date YYYY-MM-DD"),
		"product_category": str("What products are on sale"),
	},
	"order": {
		"vendor":          str("Store name"),
		"order_number":    str("Order ID"),
		"order_date":      str("Date of purchase YYYY-MM-DD"),
		"total_amount":    num("Total cost"),
		"items":           list("Items purchased"),
		"delivery_status": str("Estimated delivery or status"),
	},
	"general": {
		"summary":   str("Brief summary of the content"),
		"key_dates": list("Important dates mentioned"),
		"entities":  list("Names of companies or people"),
	},
}

var schemaAliases = map[string]string{
	"bills": "bill", "invoice": "bill",
	"promotions": "promotion", "discounts": "promotion",
	"orders": "order", "receipts": "order", "shipping": "order",
}

// SchemaName resolves a schema or category name to a known schema, falling
// back to general.
func SchemaName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if alias, ok := schemaAliases[name]; ok {
		name = alias
	}
	if _, ok := schemas[name]; !ok {
		return "general"
	}
	return name
}

func extractTool(schema string) llms.Tool {
	return functionTool("record_"+schema, fmt.Sprintf("Record the fields of a %s document.", schema), map[string]any{
		"type":       "object",
		"properties": schemas[schema],
	})
}

// Extractor pulls schema fields out of email bodies, attachment text or a
// typed request.
type Extractor struct {
	Model  llms.Model
	Logger *observability.Logger
}

func NewExtractor(model llms.Model, logger *observability.Logger) *Extractor {
	return &Extractor{Model: model, Logger: logger}
}

// Extract fails soft: model output that cannot be read is an unsuccessful
// extraction, not an error.
func (x *Extractor) Extract(ctx context.Context, text string, schema string) (agent.Extraction, error) {
	schema = SchemaName(schema)
	if strings.TrimSpace(text) == "" {
		return agent.Extraction{}, nil
	}

	messages := []llms.MessageContent{
		system(fmt.Sprintf("You are an expert data extractor for %s documents. Only record values stated in the text; omit anything missing.", schema)),
		human("Extract structured information from the text below.\n\n" + truncate(text, maxExtractChars)),
	}
	args, err := callTool(ctx, x.Model, x.Logger, "", messages, extractTool(schema))
	if err != nil {
		return agent.Extraction{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(args), &fields); err != nil {
		log.Printf("[Extractor] Unreadable %s fields: %v", schema, err)
		return agent.Extraction{}, nil
	}
	for k, v := range fields {
		if v == nil || v == "" {
			delete(fields, k)
		}
	}
	return agent.Extraction{Success: len(fields) > 0, Fields: fields}, nil
}
