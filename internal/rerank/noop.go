package rerank

import "context"

// Noop is the reranker for deployments that disable reranking. It
// never reports itself available, which keeps the pipeline on the
// pre-rerank order and the pre-rerank score guard.
type Noop struct{}

var _ Reranker = (*Noop)(nil)

// NewNoop returns the disabled reranker.
func NewNoop() *Noop { return &Noop{} }

// Rerank preserves the input order with flat descending scores.
func (*Noop) Rerank(_ context.Context, _ string, docs []Document, topK int) ([]Result, error) {
	results := make([]Result, len(docs))
	for i := range docs {
		results[i] = Result{Index: i, Score: 1.0 - float64(i)*0.01}
	}
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// ComputeScore returns a neutral score.
func (*Noop) ComputeScore(context.Context, string, Document) (float64, error) {
	return 1.0, nil
}

// Available is always false; the noop exists to be skipped.
func (*Noop) Available(context.Context) bool { return false }

// Info names the backend for logs.
func (*Noop) Info() string { return "none" }

// Close is a no-op.
func (*Noop) Close() error { return nil }
