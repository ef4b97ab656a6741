package relevance

import (
	"context"
	"fmt"
	"log"

	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/observability"
)

const (
	DefaultBatchSize = 10
	// RetainThreshold is the minimum score for an item judged relevant.
	RetainThreshold = 0.5

	StageLexical = "lexical"
	StageLLM     = "llm"
)

// Evaluation is the scorer's verdict for one item.
type Evaluation struct {
	IsRelevant bool    `json:"is_relevant"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
}

// Retained reports whether the item survives the second stage.
func (e Evaluation) Retained() bool {
	return e.IsRelevant && e.Score >= RetainThreshold
}

func failOpen(reason string) Evaluation {
	return Evaluation{IsRelevant: true, Score: 0.5, Reason: reason}
}

// Decision records why an item was kept or dropped.
type Decision struct {
	ItemID  string  `json:"item_id"`
	Subject string  `json:"subject"`
	Stage   string  `json:"stage"`
	Kept    bool    `json:"kept"`
	Score   float64 `json:"score"`
	Reason  string  `json:"reason"`
}

// Result is the retained subset plus a decision for every input item.
type Result struct {
	Relevant  []mail.Item
	Decisions []Decision
}

// Scorer evaluates a batch of items against a goal. Keys of the returned map
// are 0-based positions within items; missing keys are treated as relevant.
type Scorer interface {
	ScoreBatch(ctx context.Context, goal string, items []mail.Item) (map[int]Evaluation, error)
}

// Filter is the two-stage relevance reducer.
type Filter struct {
	Keywords    map[mail.Category][]string
	BatchSize   int
	Concurrency int
	Scorer      Scorer
	Logger      *observability.Logger
}

func NewFilter(scorer Scorer, logger *observability.Logger) *Filter {
	return &Filter{
		Keywords:    DefaultKeywords,
		BatchSize:   DefaultBatchSize,
		Concurrency: 2,
		Scorer:      scorer,
		Logger:      logger,
	}
}

// QuickFilter runs stage 1 for one item. Categories without a keyword list
// pass everything.
func (f *Filter) QuickFilter(item mail.Item, goal string, cat mail.Category) bool {
	keywords, ok := f.Keywords[cat]
	if !ok {
		return true
	}
	return QuickMatch(item, goal, keywords, cat.RequiresAttachments())
}

func (f *Filter) filterable(cat mail.Category) bool {
	_, ok := f.Keywords[cat]
	return ok
}

// Apply reduces items to the set worth full processing. Stage 1 only runs
// when goal is non-empty and the category has a keyword list.
func (f *Filter) Apply(ctx context.Context, goal string, cat mail.Category, items []mail.Item) Result {
	var res Result
	candidates := items

	if goal != "" && f.filterable(cat) {
		candidates = make([]mail.Item, 0, len(items))
		for _, item := range items {
			if f.QuickFilter(item, goal, cat) {
				candidates = append(candidates, item)
				continue
			}
			f.record(&res, item, StageLexical, false, 0, "no goal term or category keyword matched")
		}
		log.Printf("[Relevance] Quick filter kept %d of %d items", len(candidates), len(items))
	}

	if len(candidates) == 0 {
		return res
	}

	evals := f.BatchScore(ctx, goal, candidates)
	for i, item := range candidates {
		ev := evals[i]
		kept := ev.Retained()
		f.record(&res, item, StageLLM, kept, ev.Score, ev.Reason)
		if kept {
			res.Relevant = append(res.Relevant, item)
		}
	}
	log.Printf("[Relevance] %d of %d items relevant to %q", len(res.Relevant), len(items), goal)
	return res
}

func (f *Filter) record(res *Result, item mail.Item, stage string, kept bool, score float64, reason string) {
	res.Decisions = append(res.Decisions, Decision{
		ItemID:  item.ID,
		Subject: item.Subject,
		Stage:   stage,
		Kept:    kept,
		Score:   score,
		Reason:  reason,
	})
	f.Logger.LogRelevance(item.ID, item.Subject, stage, kept, score, reason)
}

func describeErr(err error) string {
	return fmt.Sprintf("scoring failed, kept by default: %v", err)
}
