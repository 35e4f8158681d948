package search

import (
	"context"

	"github.com/kailas-cloud/hybridsearch/internal/domain"
	"github.com/kailas-cloud/hybridsearch/internal/domain/candidate"
	"github.com/kailas-cloud/hybridsearch/internal/rerank"
)

// EmbedFunc turns query text into a vector of the configured dimension.
type EmbedFunc func(ctx context.Context, text string) ([]float64, error)

// EmbedWith adapts an embedding provider to EmbedFunc.
func EmbedWith(e domain.Embedder) EmbedFunc {
	return func(ctx context.Context, text string) ([]float64, error) {
		res, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err //nolint:wrapcheck // the vector leg wraps it
		}
		return res.Embedding, nil
	}
}

// Reranker re-scores a candidate list. It never fails; a degraded call
// reports Applied=false.
type Reranker interface {
	Rerank(ctx context.Context, query string, cands []candidate.Candidate, topK int) rerank.Result
	CacheStats() rerank.CacheStats
	State() rerank.State
}
