package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"ticket_parser/internal/ticket"
)

// DefaultConcurrency is used when ProcessBatch is given a non-positive limit.
const DefaultConcurrency = 4

// BatchItem is the outcome for one document of a batch, in input order.
type BatchItem struct {
	Index  int     `json:"index"`
	Result *Result `json:"result,omitempty"`
	Err    error   `json:"-"`
	Error  string  `json:"error,omitempty"`
}

// ProcessBatch runs Process over docs with at most concurrency documents in
// flight. A failing document is reported in its item and never stops the
// rest of the batch.
func (p *Pipeline) ProcessBatch(ctx context.Context, docs []*ticket.Document, concurrency int) []BatchItem {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	items := make([]BatchItem, len(docs))

	var g errgroup.Group
	g.SetLimit(concurrency)
	for i, doc := range docs {
		g.Go(func() error {
			res, err := p.Process(ctx, doc)
			items[i] = BatchItem{Index: i, Result: res, Err: err}
			if err != nil {
				items[i].Error = err.Error()
			}
			return nil
		})
	}
	_ = g.Wait()
	return items
}
