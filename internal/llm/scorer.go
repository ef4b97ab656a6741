package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/observability"
	"github.com/rahul/billagent/internal/relevance"
	"github.com/tmc/langchaingo/llms"
)

const defaultRelevancePrompt = `You decide which emails matter for a user's request.
For every numbered email, judge whether it is relevant to the request and give
a score between 0 and 1. Be strict: newsletters and marketing are not bills.
Answer for every email by its number using submit_evaluations.`

// Scorer is the model-backed second stage of the relevance filter.
type Scorer struct {
	Model   llms.Model
	Prompts *PromptManager
	Logger  *observability.Logger
}

func NewScorer(model llms.Model, prompts *PromptManager, logger *observability.Logger) *Scorer {
	return &Scorer{Model: model, Prompts: prompts, Logger: logger}
}

func evaluationsTool() llms.Tool {
	return functionTool("submit_evaluations", "Submit one relevance evaluation per email.", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"evaluations": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"index":       map[string]any{"type": "integer", "description": "Email number as listed"},
						"is_relevant": map[string]any{"type": "boolean"},
						"score":       map[string]any{"type": "number", "minimum": 0, "maximum": 1},
						"reason":      map[string]any{"type": "string"},
					},
					"required": []string{"index", "is_relevant", "score"},
				},
			},
		},
		"required": []string{"evaluations"},
	})
}

// batchPrompt numbers items from 1, the way a reader would count them.
func batchPrompt(goal string, items []mail.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s\n\nEmails:\n", goal)
	for i, it := range items {
		fmt.Fprintf(&b, "\n[%d]\nFrom: %s\nSubject: %s\n", i+1, it.Sender, it.Subject)
		if it.HasAttachments() {
			fmt.Fprintf(&b, "Attachments: %d\n", len(it.Attachments))
		}
		fmt.Fprintf(&b, "Preview: %s\n", it.Preview(300))
	}
	return b.String()
}

// ScoreBatch returns evaluations keyed by 0-based position in items.
// Indices outside the batch are ignored.
func (s *Scorer) ScoreBatch(ctx context.Context, goal string, items []mail.Item) (map[int]relevance.Evaluation, error) {
	if len(items) == 0 {
		return map[int]relevance.Evaluation{}, nil
	}

	messages := []llms.MessageContent{
		system(s.Prompts.Get("relevance", defaultRelevancePrompt)),
		human(batchPrompt(goal, items)),
	}
	args, err := callTool(ctx, s.Model, s.Logger, "", messages, evaluationsTool())
	if err != nil {
		return nil, err
	}

	var raw struct {
		Evaluations []struct {
			Index      int     `json:"index"`
			IsRelevant bool    `json:"is_relevant"`
			Score      float64 `json:"score"`
			Reason     string  `json:"reason"`
		} `json:"evaluations"`
	}
	if err := json.Unmarshal([]byte(args), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse submit_evaluations arguments: %w", err)
	}

	out := make(map[int]relevance.Evaluation, len(raw.Evaluations))
	for _, ev := range raw.Evaluations {
		i := ev.Index - 1
		if i < 0 || i >= len(items) {
			log.Printf("[Relevance] Ignoring evaluation for index %d of %d", ev.Index, len(items))
			continue
		}
		out[i] = relevance.Evaluation{IsRelevant: ev.IsRelevant, Score: ev.Score, Reason: ev.Reason}
	}
	return out, nil
}
