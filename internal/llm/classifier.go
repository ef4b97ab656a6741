package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/rahul/billagent/internal/agent"
	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/observability"
	"github.com/tmc/langchaingo/llms"
)

const defaultClassifierPrompt = `You route requests for a personal bill and mailbox assistant.
Pick exactly one intent:
- scan_bills: scan the mailbox for bills, invoices or receipts with attachments
- scan_emails: scan the mailbox for other mail (promotions, orders, shipping, updates)
- query_history: answer from bills and mail already stored
- analyze_spending: summarise or compare stored spending
- set_reminder: create payment reminders for stored bills
- find_alternatives: look for cheaper alternatives to a service or vendor
- manual_add: the user typed bill details directly
- unknown: none of the above
Extract entities when present: category, days, date_from, date_to (YYYY-MM-DD),
vendor, channel, days_before (list of integers).`

// Classifier labels requests with an agent.Goal using the classify_intent tool.
type Classifier struct {
	Model   llms.Model
	Prompts *PromptManager
	Logger  *observability.Logger
	now     func() time.Time
}

func NewClassifier(model llms.Model, prompts *PromptManager, logger *observability.Logger) *Classifier {
	return &Classifier{Model: model, Prompts: prompts, Logger: logger, now: time.Now}
}

func classifyTool() llms.Tool {
	intents := make([]string, 0, len(agent.Goals)+1)
	for _, g := range agent.Goals {
		intents = append(intents, string(g))
	}
	intents = append(intents, string(agent.GoalUnknown))

	categories := make([]string, 0, len(mail.Categories))
	for _, c := range mail.Categories {
		categories = append(categories, string(c))
	}

	return functionTool("classify_intent", "Record the intent of the user's request and any entities it names.", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"intent": map[string]any{
				"type": "string",
				"enum": intents,
			},
			"confidence": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
			"entities": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category":    map[string]any{"type": "string", "enum": categories},
					"days":        map[string]any{"type": "integer"},
					"date_from":   map[string]any{"type": "string"},
					"date_to":     map[string]any{"type": "string"},
					"vendor":      map[string]any{"type": "string"},
					"channel":     map[string]any{"type": "string"},
					"days_before": map[string]any{"type": "array", "items": map[string]any{"type": "integer"}},
				},
			},
			"reasoning": map[string]any{"type": "string"},
		},
		"required": []string{"intent", "confidence"},
	})
}

// Classify never fails for unreadable model output; it answers GoalUnknown.
// Transport errors are returned alongside a GoalUnknown classification.
func (c *Classifier) Classify(ctx context.Context, text string) (agent.Classification, error) {
	unknown := agent.Classification{Goal: agent.GoalUnknown}

	prompt := c.Prompts.Get("classifier", defaultClassifierPrompt)
	prompt += fmt.Sprintf("\n\nToday is %s.", c.clock().Format("2006-01-02"))
	messages := []llms.MessageContent{system(prompt), human(text)}

	args, err := callTool(ctx, c.Model, c.Logger, "", messages, classifyTool())
	if err != nil {
		return unknown, fmt.Errorf("classification failed: %w", err)
	}

	var raw struct {
		Intent     string         `json:"intent"`
		Confidence float64        `json:"confidence"`
		Entities   map[string]any `json:"entities"`
		Reasoning  string         `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		log.Printf("[Classifier] Unreadable classification %q: %v", truncate(args, 200), err)
		unknown.Reasoning = "unreadable classification"
		return unknown, nil
	}

	goal := agent.ParseGoal(raw.Intent)
	log.Printf("[Classifier] %q -> %s (%.2f)", truncate(text, 80), goal, raw.Confidence)
	return agent.Classification{
		Goal:       goal,
		Confidence: raw.Confidence,
		Params:     raw.Entities,
		Reasoning:  raw.Reasoning,
	}, nil
}

func (c *Classifier) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}
