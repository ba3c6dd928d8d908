package contracts

import (
	"context"
	"time"
)

// Document is one named input of a batch run.
type Document struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

// BatchResult pairs a document with its outcome. Exactly one of Result and
// Err is set.
type BatchResult struct {
	Name   string  `json:"name"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
}

// RunBatch processes independent documents concurrently, at most concurrency
// at a time. Field groups within one document still run one after another.
// A failing document does not stop the others; only cancellation of ctx ends
// the batch early, in which case the context error is returned alongside the
// results gathered so far.
func (p *Pipeline) RunBatch(ctx context.Context, docs []Document, concurrency int) ([]BatchResult, error) {
	start := time.Now()
	out := make([]BatchResult, len(docs))
	runner := NewLimitedRunner(ctx, concurrency)
	for i, doc := range docs {
		out[i].Name = doc.Name
		runner.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return err
			}
			res, err := p.Run(ctx, doc.Text)
			out[i].Result, out[i].Err = res, err
			return nil
		})
	}
	err := runner.Wait()

	failed := 0
	for i := range out {
		if out[i].Result == nil && out[i].Err == nil {
			out[i].Err = err
		}
		if out[i].Err != nil {
			failed++
		}
	}
	p.log.Info("batch finished",
		"documents", len(docs),
		"failed", failed,
		"concurrency", concurrency,
		"duration", time.Since(start))
	return out, err
}
