package relevance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rahul/billagent/internal/mail"
	"github.com/rahul/billagent/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scorerFunc func(ctx context.Context, goal string, items []mail.Item) (map[int]Evaluation, error)

func (f scorerFunc) ScoreBatch(ctx context.Context, goal string, items []mail.Item) (map[int]Evaluation, error) {
	return f(ctx, goal, items)
}

func items(n int) []mail.Item {
	out := make([]mail.Item, n)
	for i := range out {
		out[i] = mail.Item{ID: fmt.Sprint(i), Subject: fmt.Sprintf("Message %d", i)}
	}
	return out
}

func allRelevant(score float64) Scorer {
	return scorerFunc(func(_ context.Context, _ string, batch []mail.Item) (map[int]Evaluation, error) {
		out := make(map[int]Evaluation, len(batch))
		for i := range batch {
			out[i] = Evaluation{IsRelevant: true, Score: score, Reason: "ok"}
		}
		return out, nil
	})
}

func TestQuickFilter_GoalTokenMatchWithEmptyKeywordList(t *testing.T) {
	f := NewFilter(nil, observability.Discard())
	f.Keywords = map[mail.Category][]string{mail.CategoryBills: {}}

	item := mail.Item{ID: "1", Subject: "Your Netflix Invoice is ready", Sender: "info@account.netflix.com"}
	assert.True(t, f.QuickFilter(item, "find my netflix invoice", mail.CategoryBills))
	assert.True(t, QuickMatch(item, "find my netflix invoice", nil, false))
}

func TestQuickFilter(t *testing.T) {
	f := NewFilter(nil, observability.Discard())

	noise := mail.Item{ID: "n", Subject: "Weekend plans", Sender: "friend@example.com", Body: "see you soon"}
	assert.False(t, f.QuickFilter(noise, "netflix", mail.CategoryBills))

	keyword := mail.Item{ID: "k", Subject: "Your statement is available", Sender: "bank@example.com"}
	assert.True(t, f.QuickFilter(keyword, "netflix", mail.CategoryBills), "category keyword")

	attached := noise
	attached.Attachments = []mail.Attachment{{Filename: "scan.pdf"}}
	assert.True(t, f.QuickFilter(attached, "netflix", mail.CategoryBills), "attachment category")
	assert.False(t, f.QuickFilter(attached, "netflix", mail.CategoryPromotions))

	assert.True(t, f.QuickFilter(noise, "netflix", mail.CategoryGeneral), "no keyword list passes everything")
}

func TestTokens(t *testing.T) {
	assert.Equal(t, []string{"netflix", "invoice"}, Tokens("Find my NETFLIX invoice!"))
	assert.Equal(t, []string{"bills", "2024", "electricity"}, Tokens("bills in 2024 for electricity, in my inbox"))
	assert.Empty(t, Tokens("find my"))
}

func TestBatchScore_MissingIndexFailsOpen(t *testing.T) {
	f := NewFilter(scorerFunc(func(_ context.Context, _ string, batch []mail.Item) (map[int]Evaluation, error) {
		return map[int]Evaluation{
			0: {IsRelevant: true, Score: 0.9, Reason: "match"},
			2: {IsRelevant: false, Score: 0.1, Reason: "newsletter"},
		}, nil
	}), observability.Discard())

	evals := f.BatchScore(context.Background(), "netflix", items(3))
	require.Len(t, evals, 3)
	assert.Equal(t, 0.9, evals[0].Score)
	assert.True(t, evals[1].IsRelevant)
	assert.Equal(t, 0.5, evals[1].Score)
	assert.False(t, evals[2].IsRelevant)

	res := f.Apply(context.Background(), "netflix", mail.CategoryGeneral, items(3))
	require.Len(t, res.Relevant, 2)
	assert.Equal(t, "0", res.Relevant[0].ID)
	assert.Equal(t, "1", res.Relevant[1].ID)
	assert.Len(t, res.Decisions, 3)
}

func TestBatchScore_BatchErrorFailsOpen(t *testing.T) {
	f := NewFilter(scorerFunc(func(context.Context, string, []mail.Item) (map[int]Evaluation, error) {
		return nil, errors.New("timeout")
	}), observability.Discard())

	evals := f.BatchScore(context.Background(), "x", items(4))
	for _, ev := range evals {
		assert.Equal(t, Evaluation{IsRelevant: true, Score: 0.5, Reason: ev.Reason}, ev)
		assert.Contains(t, ev.Reason, "timeout")
	}
}

func TestBatchScore_BatchesOfTen(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	f := NewFilter(scorerFunc(func(_ context.Context, _ string, batch []mail.Item) (map[int]Evaluation, error) {
		mu.Lock()
		sizes = append(sizes, len(batch))
		mu.Unlock()
		out := map[int]Evaluation{}
		for i, it := range batch {
			// echo the item index back through the score so ordering is observable
			var n int
			fmt.Sscan(it.ID, &n)
			out[i] = Evaluation{IsRelevant: true, Score: float64(n) / 100}
		}
		return out, nil
	}), observability.Discard())

	evals := f.BatchScore(context.Background(), "x", items(25))
	assert.ElementsMatch(t, []int{10, 10, 5}, sizes)
	for i, ev := range evals {
		assert.InDelta(t, float64(i)/100, ev.Score, 1e-9)
	}
}

func TestApply_RetainThreshold(t *testing.T) {
	f := NewFilter(scorerFunc(func(_ context.Context, _ string, batch []mail.Item) (map[int]Evaluation, error) {
		return map[int]Evaluation{
			0: {IsRelevant: true, Score: 0.49},
			1: {IsRelevant: false, Score: 0.95},
			2: {IsRelevant: true, Score: 0.5},
		}, nil
	}), observability.Discard())

	res := f.Apply(context.Background(), "", mail.CategoryBills, items(3))
	require.Len(t, res.Relevant, 1)
	assert.Equal(t, "2", res.Relevant[0].ID)
}

func TestApply_StageOneSkippedWithoutGoal(t *testing.T) {
	var scored int
	f := NewFilter(scorerFunc(func(_ context.Context, _ string, batch []mail.Item) (map[int]Evaluation, error) {
		scored += len(batch)
		return nil, nil
	}), observability.Discard())

	// items match nothing lexically but stage 1 must not run with an empty goal
	res := f.Apply(context.Background(), "", mail.CategoryBills, items(3))
	assert.Equal(t, 3, scored)
	assert.Len(t, res.Relevant, 3)
}

func TestApply_LexicalRejectionsNeverScored(t *testing.T) {
	var seen []string
	f := NewFilter(scorerFunc(func(_ context.Context, _ string, batch []mail.Item) (map[int]Evaluation, error) {
		for _, it := range batch {
			seen = append(seen, it.ID)
		}
		return nil, nil
	}), observability.Discard())

	in := []mail.Item{
		{ID: "a", Subject: "Netflix payment failed"},
		{ID: "b", Subject: "Party on Friday"},
	}
	res := f.Apply(context.Background(), "netflix", mail.CategoryPromotions, in)

	assert.Equal(t, []string{"a"}, seen)
	require.Len(t, res.Decisions, 2)
	assert.Equal(t, Decision{ItemID: "b", Subject: "Party on Friday", Stage: StageLexical, Reason: res.Decisions[0].Reason}, res.Decisions[0])
	assert.Equal(t, StageLLM, res.Decisions[1].Stage)
}

func TestApply_NoScorerKeepsEverything(t *testing.T) {
	f := NewFilter(nil, observability.Discard())
	res := f.Apply(context.Background(), "", mail.CategoryGeneral, items(2))
	assert.Len(t, res.Relevant, 2)
}

func TestFailOpenProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	failing := NewFilter(scorerFunc(func(context.Context, string, []mail.Item) (map[int]Evaluation, error) {
		return nil, errors.New("unavailable")
	}), observability.Discard())

	properties.Property("a failing scorer never drops an item", prop.ForAll(
		func(n int) bool {
			res := failing.Apply(context.Background(), "", mail.CategoryGeneral, items(n))
			if len(res.Relevant) != n || len(res.Decisions) != n {
				return false
			}
			for _, d := range res.Decisions {
				if !d.Kept || d.Score != 0.5 {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 45),
	))

	properties.Property("every item gets exactly one decision", prop.ForAll(
		func(n int, goal string) bool {
			f := NewFilter(allRelevant(0.7), observability.Discard())
			res := f.Apply(context.Background(), goal, mail.CategoryBills, items(n))
			return len(res.Decisions) == n && len(res.Relevant) <= n
		},
		gen.IntRange(0, 30),
		gen.OneConstOf("", "netflix invoice", "message", "electricity bill"),
	))

	properties.TestingRun(t)
}
