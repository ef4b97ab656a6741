package relevance

import (
	"context"

	"github.com/rahul/billagent/internal/mail"
	"golang.org/x/sync/errgroup"
)

// BatchScore returns one evaluation per item, in item order. Items are sent
// to the scorer in batches of BatchSize. A failed batch, or an item the
// scorer left out, is kept with score 0.5.
func (f *Filter) BatchScore(ctx context.Context, goal string, items []mail.Item) []Evaluation {
	evals := make([]Evaluation, len(items))
	if f.Scorer == nil {
		for i := range evals {
			evals[i] = failOpen("no scorer configured, kept by default")
		}
		return evals
	}

	size := f.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	var g errgroup.Group
	if f.Concurrency > 0 {
		g.SetLimit(f.Concurrency)
	}
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		g.Go(func() error {
			batch := items[start:end]
			scores, err := f.Scorer.ScoreBatch(ctx, goal, batch)
			for i := range batch {
				switch ev, ok := scores[i]; {
				case err != nil:
					evals[start+i] = failOpen(describeErr(err))
				case !ok:
					evals[start+i] = failOpen("no evaluation returned, kept by default")
				default:
					evals[start+i] = normalize(ev)
				}
			}
			return nil
		})
	}
	_ = g.Wait()
	return evals
}

func normalize(ev Evaluation) Evaluation {
	if ev.Score < 0 {
		ev.Score = 0
	}
	if ev.Score > 1 {
		ev.Score = 1
	}
	return ev
}
