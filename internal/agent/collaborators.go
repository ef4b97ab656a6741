package agent

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/notify"
	"github.com/rahul/billagent/internal/relevance"
	"github.com/rahul/billagent/internal/reminder"
)

// Classification is the classifier's reading of a request.
type Classification struct {
	Goal       Goal           `json:"intent"`
	Confidence float64        `json:"confidence"`
	Params     map[string]any `json:"entities"`
	Reasoning  string         `json:"reasoning,omitempty"`
}

// Classifier labels a request. Implementations should return GoalUnknown
// rather than an error when the text cannot be labelled.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}

// ParsedDocument is the text of a downloaded attachment.
type ParsedDocument struct {
	Path    string `json:"path"`
	ItemID  string `json:"item_id,omitempty"`
	Text    string `json:"text"`
	Pages   int    `json:"pages"`
	Success bool   `json:"success"`
}

type DocumentParser interface {
	Parse(ctx context.Context, path string) (ParsedDocument, error)
}

// Extraction is structured data pulled from text.
type Extraction struct {
	Success bool           `json:"success"`
	Fields  map[string]any `json:"fields"`
}

// Extractor pulls fields from text using a named schema (bill, order,
// promotion, general).
type Extractor interface {
	Extract(ctx context.Context, text string, schema string) (Extraction, error)
}

// SearchHit is one stored document returned by a search.
type SearchHit struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Score    float64        `json:"score"`
}

// DocumentStore writes documents and searches them semantically.
type DocumentStore interface {
	Save(ctx context.Context, text string, metadata map[string]any) (string, error)
	Search(ctx context.Context, query string, filters map[string]any, topK int) ([]SearchHit, error)
}

// WebResult is one web search hit.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

type WebSearcher interface {
	Search(ctx context.Context, query string) ([]WebResult, error)
}

// ReminderWriter stores new reminders.
type ReminderWriter interface {
	Add(ctx context.Context, r reminder.Reminder) (string, error)
}

// ResponseContext is everything the responder sees about a finished run.
type ResponseContext struct {
	Query      string
	Goal       Goal
	Identity   string
	Category   mail.Category
	Params     Params
	Items      []mail.Item
	Records    []Record
	Retrieved  []SearchHit
	WebResults []WebResult
	Reminders  []reminder.Reminder
	Skipped    int
	Errors     []string
}

// Responder writes the final answer for a run.
type Responder interface {
	Respond(ctx context.Context, rc ResponseContext) (string, error)
}

// Notifier sends a message on a channel. notify.Router satisfies it.
type Notifier interface {
	Send(ctx context.Context, ch notify.Channel, recipient string, text string) error
}

// RelevanceFilter reduces fetched items to the ones worth processing.
type RelevanceFilter interface {
	Apply(ctx context.Context, goal string, cat mail.Category, items []mail.Item) relevance.Result
}

// HistoryStore records each exchange for later context.
type HistoryStore interface {
	AddMessage(chatID string, role string, content string) error
}

// Record is one extracted bill, order or promotion.
type Record struct {
	Source   string         `json:"source"`
	ItemID   string         `json:"item_id,omitempty"`
	Category mail.Category  `json:"category"`
	Schema   string         `json:"schema"`
	Fields   map[string]any `json:"fields"`
}

func (r Record) field(keys ...string) (any, bool) {
	for _, k := range keys {
		if v, ok := r.Fields[k]; ok && v != nil && fmt.Sprint(v) != "" {
			return v, true
		}
	}
	return nil, false
}

// Vendor is the merchant or biller name.
func (r Record) Vendor() string {
	if v, ok := r.field("vendor", "merchant", "store", "company", "sender"); ok {
		return strings.TrimSpace(fmt.Sprint(v))
	}
	return ""
}

// Amount is the amount due or total.
func (r Record) Amount() (float64, bool) {
	v, ok := r.field("amount", "amount_due", "total", "total_amount")
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		s := strings.NewReplacer("$", "", ",", "", "€", "", "£", "").Replace(strings.TrimSpace(n))
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

// DueDate parses the due date field.
func (r Record) DueDate() (time.Time, bool) {
	v, ok := r.field("due_date", "payment_due", "expiry_date", "valid_until")
	if !ok {
		return time.Time{}, false
	}
	t, ok := toDate(v)
	return t, ok
}

// Describe renders the record as searchable text.
func (r Record) Describe() string {
	var b strings.Builder
	schema := r.Schema
	if schema == "" {
		schema = "general"
	}
	fmt.Fprintf(&b, "%s record", schema)
	if v := r.Vendor(); v != "" {
		fmt.Fprintf(&b, " from %s", v)
	}
	b.WriteString("\n")
	if amt, ok := r.Amount(); ok {
		fmt.Fprintf(&b, "Amount: %.2f\n", amt)
	}
	if due, ok := r.DueDate(); ok {
		fmt.Fprintf(&b, "Due date: %s\n", due.Format(dateLayout))
	}
	for _, k := range slices.Sorted(maps.Keys(r.Fields)) {
		fmt.Fprintf(&b, "%s: %v\n", k, r.Fields[k])
	}
	fmt.Fprintf(&b, "Source: %s", r.Source)
	return b.String()
}

// Metadata is the store metadata for the record.
func (r Record) Metadata() map[string]any {
	meta := map[string]any{
		"type":     "record",
		"schema":   r.Schema,
		"category": string(r.Category),
		"source":   r.Source,
	}
	if r.ItemID != "" {
		meta["item_id"] = r.ItemID
	}
	if v := r.Vendor(); v != "" {
		meta["vendor"] = v
	}
	if amt, ok := r.Amount(); ok {
		meta["amount"] = amt
	}
	if due, ok := r.DueDate(); ok {
		meta["due_date"] = due.Format(dateLayout)
	}
	return meta
}

// recordFromHit rebuilds a record from stored metadata, for steps that work
// from the store rather than a fresh scan.
func recordFromHit(h SearchHit) Record {
	fields := make(map[string]any, len(h.Metadata))
	for k, v := range h.Metadata {
		fields[k] = v
	}
	schema, _ := h.Metadata["schema"].(string)
	if schema == "" {
		schema = "bill"
	}
	cat, _ := h.Metadata["category"].(string)
	return Record{
		Source:   h.ID,
		Category: mail.Category(cat),
		Schema:   schema,
		Fields:   fields,
	}
}
